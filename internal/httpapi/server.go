package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/rs/cors"

	"github.com/digkill/tryon/internal/identity"
	"github.com/digkill/tryon/internal/service"
)

type Config struct {
	Addr           string
	AdminUsername  string
	AdminPassword  string
	AllowedOrigins []string
}

type Server struct {
	cfg      Config
	log      *slog.Logger
	identity identity.Resolver
	users    *service.UserService
	tryOn    *service.TryOnService
	jobs     *service.JobService
	ledger   *service.Ledger
	payments *service.PaymentService
	health   func(ctx context.Context) error
	validate *validator.Validate
	handler  http.Handler
}

type Deps struct {
	Identity identity.Resolver
	Users    *service.UserService
	TryOn    *service.TryOnService
	Jobs     *service.JobService
	Ledger   *service.Ledger
	Payments *service.PaymentService
	// Health is optional; it usually pings the database.
	Health func(ctx context.Context) error
}

func NewServer(cfg Config, log *slog.Logger, deps Deps) *Server {
	s := &Server{
		cfg:      cfg,
		log:      log,
		identity: deps.Identity,
		users:    deps.Users,
		tryOn:    deps.TryOn,
		jobs:     deps.Jobs,
		ledger:   deps.Ledger,
		payments: deps.Payments,
		health:   deps.Health,
		validate: newValidator(),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Post("/webhook/prodamus", s.handleProdamusWebhook)
	r.Get("/status/{jobID}", s.handleStatus)

	r.Group(func(authed chi.Router) {
		authed.Use(s.authMiddleware)
		authed.Post("/try-on", s.handleTryOn)
		authed.Route("/user", func(r chi.Router) {
			r.Get("/profile", s.handleProfile)
			r.Get("/history", s.handleHistory)
			r.Get("/images", s.handleListImages)
			r.Post("/images/upload-url", s.handleUploadURL)
			r.Post("/images", s.handleSaveImage)
			r.Delete("/images/{imageID}", s.handleDeleteImage)
		})
	})

	r.Route("/admin", func(admin chi.Router) {
		admin.Use(s.basicAuthMiddleware)
		admin.Post("/credits", s.handleGrantCredits)
		admin.Get("/jobs/{jobID}", s.handleAdminJob)
	})

	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type", "Sign"},
		MaxAge:         600,
	})
	s.handler = c.Handler(r)
	return s
}

func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Error("http shutdown error", "err", err)
		}
	}()

	s.log.Info("http api listening", "addr", s.cfg.Addr)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http listen: %w", err)
	}
	return nil
}

type ctxKey struct{}

func userIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

// authMiddleware resolves the bearer token and makes sure the account exists.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := identity.BearerToken(r.Header.Get("Authorization"))
		if token == "" {
			s.writeError(w, r, service.ErrUnauthorized)
			return
		}
		profile, err := s.identity.Resolve(r.Context(), token)
		if err != nil {
			switch {
			case errors.Is(err, identity.ErrUnauthenticated):
				s.writeError(w, r, fmt.Errorf("%w: %v", service.ErrUnauthorized, err))
				return
			case errors.Is(err, identity.ErrUnavailable):
				s.writeError(w, r, fmt.Errorf("%w: %v", service.ErrUpstreamUnavailable, err))
				return
			}
			s.writeError(w, r, err)
			return
		}
		if _, err := s.users.Ensure(r.Context(), profile); err != nil {
			s.writeError(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, profile.UserID)))
	})
}

func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || s.cfg.AdminPassword == "" ||
			subtle.ConstantTimeCompare([]byte(user), []byte(s.cfg.AdminUsername)) != 1 ||
			subtle.ConstantTimeCompare([]byte(pass), []byte(s.cfg.AdminPassword)) != 1 {
			w.Header().Set("WWW-Authenticate", `Basic realm="tryon"`)
			s.writeError(w, r, service.ErrUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		started := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"took", time.Since(started).String(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// errorStatus maps a service error to an HTTP status and a stable code.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, service.ErrValidation):
		return http.StatusBadRequest, "VALIDATION_ERROR"
	case errors.Is(err, service.ErrUnauthorized):
		return http.StatusUnauthorized, "UNAUTHORIZED"
	case errors.Is(err, service.ErrInsufficientCredits):
		return http.StatusPaymentRequired, "INSUFFICIENT_CREDITS"
	case errors.Is(err, service.ErrSignatureInvalid):
		return http.StatusForbidden, "SIGNATURE_INVALID"
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, service.ErrUpstreamUnavailable):
		return http.StatusServiceUnavailable, "UPSTREAM_UNAVAILABLE"
	case errors.Is(err, service.ErrUpstreamRejected):
		return http.StatusBadGateway, "UPSTREAM_REJECTED"
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR"
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := errorStatus(err)
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed", "method", r.Method, "path", r.URL.Path, "err", err, "request_id", middleware.GetReqID(r.Context()))
		switch status {
		case http.StatusServiceUnavailable:
			msg = "temporarily unavailable, retry later"
		case http.StatusBadGateway:
			msg = "upstream rejected the request"
		default:
			msg = "internal error"
		}
	}
	s.writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decodeJSON reads a request body into dst and runs struct validation.
func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return fmt.Errorf("%w: invalid json: %v", service.ErrValidation, err)
	}
	if err := s.validate.Struct(dst); err != nil {
		return fmt.Errorf("%w: %s", service.ErrValidation, describeValidation(err))
	}
	return nil
}

// newValidator reports fields by their json names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err.Error()
	}
	fe := verrs[0]
	if fe.Param() != "" {
		return fmt.Sprintf("%s failed %s=%s", fe.Field(), fe.Tag(), fe.Param())
	}
	return fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag())
}
