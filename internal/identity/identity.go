// Package identity turns a bearer credential into a stable user id.
package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/digkill/tryon/internal/models"
)

var (
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrUnavailable means the token could not be checked; the caller may retry.
	ErrUnavailable = errors.New("identity provider unavailable")
)

const DefaultTokenInfoURL = "https://www.googleapis.com/oauth2/v3/tokeninfo"

type Resolver interface {
	Resolve(ctx context.Context, bearer string) (models.Profile, error)
}

// GoogleResolver validates OAuth2 access tokens against the tokeninfo endpoint.
type GoogleResolver struct {
	endpoint   string
	httpClient *http.Client
	log        *slog.Logger
}

func NewGoogleResolver(endpoint string, httpClient *http.Client, log *slog.Logger) *GoogleResolver {
	if endpoint == "" {
		endpoint = DefaultTokenInfoURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &GoogleResolver{endpoint: endpoint, httpClient: httpClient, log: log}
}

type tokenInfo struct {
	Sub     string `json:"sub"`
	Email   string `json:"email"`
	Name    string `json:"name"`
	Picture string `json:"picture"`
	Error   string `json:"error_description"`
}

func (r *GoogleResolver) Resolve(ctx context.Context, bearer string) (models.Profile, error) {
	token := strings.TrimSpace(bearer)
	if token == "" {
		return models.Profile{}, ErrUnauthenticated
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.endpoint+"?access_token="+url.QueryEscape(token), nil)
	if err != nil {
		return models.Profile{}, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	resp, err := r.httpClient.Do(req)
	if err != nil {
		r.warn("tokeninfo request failed", err)
		return models.Profile{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return models.Profile{}, fmt.Errorf("%w: read tokeninfo: %v", ErrUnavailable, err)
	}
	if resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests {
		r.warn("tokeninfo unavailable", fmt.Errorf("status=%d", resp.StatusCode))
		return models.Profile{}, fmt.Errorf("%w: tokeninfo status=%d", ErrUnavailable, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return models.Profile{}, fmt.Errorf("%w: tokeninfo status=%d", ErrUnauthenticated, resp.StatusCode)
	}

	var info tokenInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return models.Profile{}, fmt.Errorf("%w: decode tokeninfo: %v", ErrUnauthenticated, err)
	}
	if info.Sub == "" {
		return models.Profile{}, fmt.Errorf("%w: tokeninfo has no subject", ErrUnauthenticated)
	}
	return models.Profile{
		UserID:  info.Sub,
		Email:   info.Email,
		Name:    info.Name,
		Picture: info.Picture,
	}, nil
}

func (r *GoogleResolver) warn(msg string, err error) {
	if r.log != nil {
		r.log.Warn(msg, "err", err)
	}
}

// Static maps fixed tokens to profiles.
type Static map[string]models.Profile

func (s Static) Resolve(_ context.Context, bearer string) (models.Profile, error) {
	p, ok := s[strings.TrimSpace(bearer)]
	if !ok {
		return models.Profile{}, ErrUnauthenticated
	}
	return p, nil
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) string {
	const prefix = "bearer "
	header = strings.TrimSpace(header)
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}
