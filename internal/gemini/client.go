package gemini

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

var (
	// ErrFetch means a source image could not be downloaded. Never retried.
	ErrFetch = errors.New("fetch source image")
	// ErrUnavailable is the only retryable class: the API answered 503.
	ErrUnavailable = errors.New("generation service unavailable")
	// ErrRejected covers every other non-2xx answer or an undecodable body.
	ErrRejected = errors.New("generation request rejected")
	// ErrNoImage means the API answered 2xx without a candidate carrying inline image data.
	ErrNoImage = errors.New("no image produced")
	// ErrTransport means the request never got an HTTP answer.
	ErrTransport = errors.New("generation transport error")
)

const maxImageBytes = 20 << 20

type Config struct {
	APIKey         string
	BaseURL        string
	Model          string
	Prompt         string
	Timeout        time.Duration
	MaxAttempts    int
	BackoffInitial time.Duration
}

type Client struct {
	apiKey      string
	baseURL     string
	model       string
	prompt      string
	maxAttempts int
	backoff     time.Duration
	httpClient  *http.Client
	sleep       func(ctx context.Context, d time.Duration) error
	log         *slog.Logger
}

type Option func(*Client)

// WithHTTPClient replaces the client used for both downloads and API calls.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpClient = h }
}

// WithSleep replaces the backoff wait.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Client) { c.sleep = sleep }
}

type Image struct {
	Bytes []byte
	Mime  string
}

func NewClient(cfg Config, log *slog.Logger, opts ...Option) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = 5
	}
	backoff := cfg.BackoffInitial
	if backoff <= 0 {
		backoff = time.Second
	}

	c := &Client{
		apiKey:      cfg.APIKey,
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		model:       cfg.Model,
		prompt:      cfg.Prompt,
		maxAttempts: attempts,
		backoff:     backoff,
		httpClient:  &http.Client{Timeout: timeout},
		sleep:       sleepContext,
		log:         log,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Generate downloads both source images and asks the model for a try-on
// render. Only ErrUnavailable answers are retried, with the wait doubling
// from the initial backoff between attempts.
func (c *Client) Generate(ctx context.Context, itemURL, selfieURL string) (*Image, error) {
	item, err := c.fetch(ctx, itemURL)
	if err != nil {
		return nil, fmt.Errorf("%w: item: %v", ErrFetch, err)
	}
	selfie, err := c.fetch(ctx, selfieURL)
	if err != nil {
		return nil, fmt.Errorf("%w: selfie: %v", ErrFetch, err)
	}

	body, err := json.Marshal(generateRequest{
		Contents: []content{{
			Role: "user",
			Parts: []part{
				{Text: c.prompt},
				{InlineData: &inlineData{MimeType: item.Mime, Data: base64.StdEncoding.EncodeToString(item.Bytes)}},
				{InlineData: &inlineData{MimeType: selfie.Mime, Data: base64.StdEncoding.EncodeToString(selfie.Bytes)}},
			},
		}},
		GenerationConfig: &generationConfig{ResponseModalities: []string{"IMAGE"}},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	var lastErr error
	wait := c.backoff
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		img, err := c.call(ctx, body)
		if err == nil {
			if c.log != nil && attempt > 1 {
				c.log.Info("gemini generation recovered", "attempt", attempt)
			}
			return img, nil
		}
		if !errors.Is(err, ErrUnavailable) {
			return nil, err
		}
		lastErr = err
		if attempt == c.maxAttempts {
			break
		}
		if c.log != nil {
			c.log.Warn("gemini unavailable, backing off", "attempt", attempt, "max_attempts", c.maxAttempts, "wait", wait.String())
		}
		if err := c.sleep(ctx, wait); err != nil {
			return nil, err
		}
		wait *= 2
	}
	return nil, fmt.Errorf("gave up after %d attempts: %w", c.maxAttempts, lastErr)
}

func (c *Client) call(ctx context.Context, body []byte) (*Image, error) {
	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent", c.baseURL, url.PathEscape(c.model))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("x-goog-api-key", c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer resp.Body.Close()

	rawBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response body: %v", ErrTransport, err)
	}

	switch {
	case resp.StatusCode == http.StatusServiceUnavailable:
		return nil, fmt.Errorf("%w: status=%d body=%s", ErrUnavailable, resp.StatusCode, truncateBody(rawBody))
	case resp.StatusCode >= 300:
		if c.log != nil {
			c.log.Error("gemini generate failed", "status", resp.StatusCode, "body", truncateBody(rawBody))
		}
		return nil, fmt.Errorf("%w: status=%d body=%s", ErrRejected, resp.StatusCode, truncateBody(rawBody))
	}

	var parsed generateResponse
	if err := json.Unmarshal(rawBody, &parsed); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v (body=%s)", ErrRejected, err, truncateBody(rawBody))
	}
	if len(parsed.Candidates) == 0 {
		return nil, fmt.Errorf("%w: response has no candidates", ErrNoImage)
	}
	for _, cand := range parsed.Candidates {
		for _, p := range cand.Content.Parts {
			if p.InlineData == nil || p.InlineData.Data == "" {
				continue
			}
			data, err := base64.StdEncoding.DecodeString(p.InlineData.Data)
			if err != nil {
				return nil, fmt.Errorf("%w: decode inline data: %v", ErrRejected, err)
			}
			mime := p.InlineData.MimeType
			if mime == "" {
				mime = http.DetectContentType(data)
			}
			return &Image{Bytes: data, Mime: mime}, nil
		}
	}
	return nil, fmt.Errorf("%w: finish_reason=%s", ErrNoImage, parsed.Candidates[0].FinishReason)
}

func (c *Client) fetch(ctx context.Context, rawURL string) (*Image, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("get %s: status=%d", rawURL, resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", rawURL, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("get %s: empty body", rawURL)
	}
	if len(data) > maxImageBytes {
		return nil, fmt.Errorf("get %s: image exceeds %d bytes", rawURL, maxImageBytes)
	}

	mime := strings.TrimSpace(strings.Split(resp.Header.Get("Content-Type"), ";")[0])
	if !strings.HasPrefix(mime, "image/") {
		mime = http.DetectContentType(data)
	}
	return &Image{Bytes: data, Mime: mime}, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func truncateBody(body []byte) string {
	const limit = 512
	s := strings.TrimSpace(string(body))
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "…"
}

type generateRequest struct {
	Contents         []content         `json:"contents"`
	GenerationConfig *generationConfig `json:"generationConfig,omitempty"`
}

type generationConfig struct {
	ResponseModalities []string `json:"responseModalities,omitempty"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type inlineData struct {
	MimeType string `json:"mimeType,omitempty"`
	Data     string `json:"data,omitempty"`
}

type generateResponse struct {
	Candidates []struct {
		Content      content `json:"content"`
		FinishReason string  `json:"finishReason"`
	} `json:"candidates"`
}
