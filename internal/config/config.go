package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the API, the workflow runner and supporting services.
type Config struct {
	ListenAddr         string
	LogLevel           string
	MySQLDSN           string
	StartingCredits    int
	MaxUserImages      int
	CORSAllowedOrigins []string

	GeminiAPIKey             string
	GeminiBaseURL            string
	GeminiModel              string
	GenerationPrompt         string
	RequestTimeout           time.Duration
	GenerationMaxAttempts    int
	GenerationBackoffInitial time.Duration

	WorkflowWorkers   int
	WorkflowQueueSize int

	ProdamusSecretKey string
	PricePerCredit    int
	PriceTolerance    int

	IdentityTokenInfoURL string

	AdminUsername string
	AdminPassword string

	TelegramBotToken    string
	TelegramAlertChatID int64

	S3Endpoint      string
	S3Region        string
	S3AccessKey     string
	S3SecretKey     string
	S3Bucket        string
	S3PublicBaseURL string
	S3UsePathStyle  bool
	S3UploadTTL     time.Duration
}

const defaultGeminiBaseURL = "https://generativelanguage.googleapis.com"

const defaultPrompt = "Dress the person from the second image in the clothing item from the first image. " +
	"Keep the person's face, body shape, pose and background unchanged. Return a single photorealistic image."

// Load reads configuration from environment variables, applying sane defaults.
func Load() (Config, error) {
	if err := loadEnvFile(); err != nil {
		return Config{}, err
	}

	cfg := Config{
		ListenAddr:               getEnv("LISTEN_ADDR", ":8080"),
		LogLevel:                 strings.ToLower(getEnv("LOG_LEVEL", "info")),
		StartingCredits:          getInt("STARTING_CREDITS", 5),
		MaxUserImages:            getInt("MAX_USER_IMAGES", 5),
		CORSAllowedOrigins:       splitList(getEnv("CORS_ALLOWED_ORIGINS", "*")),
		GeminiBaseURL:            normalizeBaseURL(getEnv("GEMINI_BASE_URL", defaultGeminiBaseURL), defaultGeminiBaseURL),
		GeminiModel:              getEnv("GEMINI_MODEL", "gemini-2.5-flash-image"),
		GenerationPrompt:         getEnv("GENERATION_PROMPT", defaultPrompt),
		RequestTimeout:           time.Second * time.Duration(getInt("HTTP_TIMEOUT_SECONDS", 120)),
		GenerationMaxAttempts:    getInt("GENERATION_MAX_ATTEMPTS", 5),
		GenerationBackoffInitial: getDuration("GENERATION_BACKOFF_INITIAL", time.Second),
		WorkflowWorkers:          getInt("WORKFLOW_WORKERS", 4),
		WorkflowQueueSize:        getInt("WORKFLOW_QUEUE_SIZE", 64),
		PricePerCredit:           getInt("PRICE_PER_CREDIT", 32),
		PriceTolerance:           getInt("PRICE_TOLERANCE", 5),
		IdentityTokenInfoURL:     getEnv("IDENTITY_TOKENINFO_URL", "https://www.googleapis.com/oauth2/v3/tokeninfo"),
		AdminUsername:            getEnv("ADMIN_USERNAME", "admin"),
		AdminPassword:            getEnv("ADMIN_PASSWORD", "change-me"),
		TelegramAlertChatID:      getInt64("TELEGRAM_ALERT_CHAT_ID", 0),
		S3Endpoint:               getEnv("S3_ENDPOINT", ""),
		S3Region:                 os.Getenv("S3_REGION"),
		S3AccessKey:              os.Getenv("S3_ACCESS_KEY"),
		S3SecretKey:              os.Getenv("S3_SECRET_KEY"),
		S3Bucket:                 os.Getenv("S3_BUCKET"),
		S3PublicBaseURL:          os.Getenv("S3_PUBLIC_BASE_URL"),
		S3UsePathStyle:           getBool("S3_USE_PATH_STYLE", false),
		S3UploadTTL:              getDuration("S3_UPLOAD_URL_TTL", 5*time.Minute),
	}

	cfg.MySQLDSN = os.Getenv("MYSQL_DSN")
	cfg.GeminiAPIKey = os.Getenv("GEMINI_API_KEY")
	cfg.ProdamusSecretKey = os.Getenv("PRODAMUS_SECRET_KEY")
	cfg.TelegramBotToken = os.Getenv("TELEGRAM_BOT_TOKEN")

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	var missing []string
	if c.MySQLDSN == "" {
		missing = append(missing, "MYSQL_DSN")
	}
	if c.GeminiAPIKey == "" {
		missing = append(missing, "GEMINI_API_KEY")
	}
	if c.ProdamusSecretKey == "" {
		missing = append(missing, "PRODAMUS_SECRET_KEY")
	}
	if c.S3Region == "" {
		missing = append(missing, "S3_REGION")
	}
	if c.S3AccessKey == "" {
		missing = append(missing, "S3_ACCESS_KEY")
	}
	if c.S3SecretKey == "" {
		missing = append(missing, "S3_SECRET_KEY")
	}
	if c.S3Bucket == "" {
		missing = append(missing, "S3_BUCKET")
	}
	if c.S3PublicBaseURL == "" {
		missing = append(missing, "S3_PUBLIC_BASE_URL")
	}
	if c.TelegramBotToken != "" && c.TelegramAlertChatID == 0 {
		missing = append(missing, "TELEGRAM_ALERT_CHAT_ID")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required environment variables: %v", missing)
	}

	if c.StartingCredits < 0 {
		return fmt.Errorf("STARTING_CREDITS must not be negative")
	}
	if c.GenerationMaxAttempts < 1 {
		return fmt.Errorf("GENERATION_MAX_ATTEMPTS must be at least 1")
	}
	if c.PricePerCredit <= 0 {
		return fmt.Errorf("PRICE_PER_CREDIT must be positive")
	}
	if c.WorkflowWorkers < 1 || c.WorkflowQueueSize < 1 {
		return fmt.Errorf("WORKFLOW_WORKERS and WORKFLOW_QUEUE_SIZE must be positive")
	}
	return nil
}

// normalizeBaseURL trims trailing slashes and fills in a missing scheme.
func normalizeBaseURL(raw string, fallback string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return fallback
	}
	if parsed.Scheme == "" {
		parsed.Scheme = "https"
	}
	if parsed.Host == "" {
		parsed.Host = parsed.Path
		parsed.Path = ""
	}
	return strings.TrimRight(parsed.String(), "/")
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func getInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return i
}

func getBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// loadEnvFile overlays the first env file found. Running without one is fine:
// containers usually inject the environment directly.
func loadEnvFile() error {
	candidates := []string{}
	if custom, ok := os.LookupEnv("CONFIG_ENV_PATH"); ok && custom != "" {
		candidates = append(candidates, custom)
	}
	candidates = append(candidates,
		filepath.Join("configs", ".env"),
		".env",
	)

	for _, path := range candidates {
		info, err := os.Stat(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return fmt.Errorf("access env file %s: %w", path, err)
		}
		if info.IsDir() {
			continue
		}
		if err := godotenv.Overload(path); err != nil {
			return fmt.Errorf("load env file %s: %w", path, err)
		}
		return nil
	}
	return nil
}
