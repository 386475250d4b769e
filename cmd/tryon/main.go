package main

import (
	"context"
	"errors"
	"log"
	"os/signal"
	"syscall"

	"github.com/digkill/tryon/internal/alert"
	"github.com/digkill/tryon/internal/config"
	"github.com/digkill/tryon/internal/database"
	"github.com/digkill/tryon/internal/gemini"
	"github.com/digkill/tryon/internal/httpapi"
	"github.com/digkill/tryon/internal/identity"
	"github.com/digkill/tryon/internal/repository"
	"github.com/digkill/tryon/internal/service"
	"github.com/digkill/tryon/internal/storage"
	"github.com/digkill/tryon/internal/workflow"
	"github.com/digkill/tryon/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logr := logger.New(cfg.LogLevel)

	db, err := database.Connect(cfg.MySQLDSN)
	if err != nil {
		log.Fatalf("database connect: %v", err)
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := database.Migrate(ctx, db); err != nil {
		log.Fatalf("database migrate: %v", err)
	}

	uploader, err := storage.NewUploader(storage.Config{
		Endpoint:      cfg.S3Endpoint,
		Region:        cfg.S3Region,
		AccessKey:     cfg.S3AccessKey,
		SecretKey:     cfg.S3SecretKey,
		Bucket:        cfg.S3Bucket,
		PublicBaseURL: cfg.S3PublicBaseURL,
		UsePathStyle:  cfg.S3UsePathStyle,
	})
	if err != nil {
		log.Fatalf("storage uploader: %v", err)
	}

	var notifier alert.Notifier = alert.LogNotifier{Log: logr}
	if cfg.TelegramBotToken != "" {
		tg, err := alert.NewTelegram(cfg.TelegramBotToken, cfg.TelegramAlertChatID, logr)
		if err != nil {
			log.Fatalf("telegram alerts: %v", err)
		}
		notifier = tg
	}

	geminiClient := gemini.NewClient(gemini.Config{
		APIKey:         cfg.GeminiAPIKey,
		BaseURL:        cfg.GeminiBaseURL,
		Model:          cfg.GeminiModel,
		Prompt:         cfg.GenerationPrompt,
		Timeout:        cfg.RequestTimeout,
		MaxAttempts:    cfg.GenerationMaxAttempts,
		BackoffInitial: cfg.GenerationBackoffInitial,
	}, logr)

	userRepo := repository.NewUserRepository(db)
	jobRepo := repository.NewJobRepository(db)
	historyRepo := repository.NewHistoryRepository(db)

	ledger := service.NewLedger(userRepo, cfg.StartingCredits, logr)
	jobService := service.NewJobService(jobRepo)
	userService := service.NewUserService(userRepo, userRepo, uploader, cfg.StartingCredits, cfg.MaxUserImages, cfg.S3UploadTTL, logr)
	tryOnService := service.NewTryOnService(ledger, jobService, userRepo, historyRepo, geminiClient, uploader, notifier, logr)
	paymentService := service.NewPaymentService(cfg.ProdamusSecretKey, ledger, service.NewTariffs(service.DefaultBundles, cfg.PricePerCredit, cfg.PriceTolerance), logr)

	runner := workflow.NewRunner(workflow.Config{
		Workers:   cfg.WorkflowWorkers,
		QueueSize: cfg.WorkflowQueueSize,
	}, tryOnService, notifier, logr)
	tryOnService.UseRunner(runner)

	runnerDone := make(chan struct{})
	go func() {
		defer close(runnerDone)
		if err := runner.Run(ctx); err != nil {
			logr.Error("workflow runner stopped", "err", err)
		}
	}()

	server := httpapi.NewServer(httpapi.Config{
		Addr:           cfg.ListenAddr,
		AdminUsername:  cfg.AdminUsername,
		AdminPassword:  cfg.AdminPassword,
		AllowedOrigins: cfg.CORSAllowedOrigins,
	}, logr, httpapi.Deps{
		Identity: identity.NewGoogleResolver(cfg.IdentityTokenInfoURL, nil, logr),
		Users:    userService,
		TryOn:    tryOnService,
		Jobs:     jobService,
		Ledger:   ledger,
		Payments: paymentService,
		Health:   db.PingContext,
	})

	if err := server.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logr.Error("http server stopped", "err", err)
		stop()
	}
	<-runnerDone
}
