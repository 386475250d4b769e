package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/digkill/tryon/internal/alert"
	"github.com/digkill/tryon/internal/gemini"
	"github.com/digkill/tryon/internal/models"
	"github.com/digkill/tryon/internal/storage"
	"github.com/digkill/tryon/internal/workflow"
)

// creditsPerJob is the price of one try-on.
const creditsPerJob = 1

type DispatchRequest struct {
	ItemURL   string
	SelfieID  string
	SiteURL   string
	SiteTitle string
}

// TryOnService drives a try-on job from the user request to a terminal state.
// It also implements workflow.Steps for the background half of the job.
type TryOnService struct {
	ledger    *Ledger
	jobs      *JobService
	images    ImageStore
	history   HistoryStore
	generator Generator
	blobs     BlobStore
	runner    Runner
	alerts    alert.Notifier
	log       *slog.Logger
	newID     func() string
	now       func() time.Time
}

func NewTryOnService(ledger *Ledger, jobs *JobService, images ImageStore, history HistoryStore, generator Generator, blobs BlobStore, alerts alert.Notifier, log *slog.Logger) *TryOnService {
	return &TryOnService{
		ledger:    ledger,
		jobs:      jobs,
		images:    images,
		history:   history,
		generator: generator,
		blobs:     blobs,
		alerts:    alerts,
		log:       log,
		newID:     uuid.NewString,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// UseRunner sets the runner jobs are handed to. The runner itself calls back
// into the service, so it is attached after construction.
func (s *TryOnService) UseRunner(r Runner) {
	s.runner = r
}

// Dispatch validates the request, reserves a credit, records the job and hands
// it to the runner. Generation happens after Dispatch returns.
func (s *TryOnService) Dispatch(ctx context.Context, userID string, req DispatchRequest) (string, error) {
	if userID == "" {
		return "", ErrUnauthorized
	}
	itemURL := strings.TrimSpace(req.ItemURL)
	if err := validateImageURL(itemURL); err != nil {
		return "", err
	}
	if strings.TrimSpace(req.SelfieID) == "" {
		return "", fmt.Errorf("%w: selfieId is required", ErrValidation)
	}
	selfie, err := s.images.FindImage(ctx, userID, req.SelfieID)
	if err != nil {
		return "", fmt.Errorf("find selfie: %w", err)
	}
	if selfie == nil {
		return "", fmt.Errorf("selfie %s: %w", req.SelfieID, ErrNotFound)
	}

	if err := s.ledger.Reserve(ctx, userID, creditsPerJob); err != nil {
		return "", err
	}

	jobID := s.newID()
	log := s.log.With("job_id", jobID, "user_id", userID)

	if _, err := s.jobs.Create(ctx, jobID, userID); err != nil {
		s.refundAfterDispatchFailure(ctx, log, userID, jobID, err)
		return "", err
	}

	payload := workflow.Payload{
		JobID:     jobID,
		UserID:    userID,
		ItemURL:   itemURL,
		SelfieURL: selfie.URL,
		SiteURL:   req.SiteURL,
		SiteTitle: req.SiteTitle,
	}
	if err := s.runner.Start(ctx, payload); err != nil {
		cleanup, cancel := cleanupContext(ctx)
		if ferr := s.jobs.Fail(cleanup, jobID, "dispatch failed: "+err.Error()); ferr != nil {
			log.Error("mark undispatched job failed", "err", ferr)
		}
		cancel()
		s.refundAfterDispatchFailure(ctx, log, userID, jobID, err)
		return "", fmt.Errorf("%w: start workflow: %v", ErrUpstreamUnavailable, err)
	}

	log.Info("try-on job dispatched", "item_url", itemURL, "selfie_id", selfie.ID)
	return jobID, nil
}

// refundAfterDispatchFailure returns the reserved credit. It runs detached from
// the request context: a disconnected client must not leave the debit behind.
func (s *TryOnService) refundAfterDispatchFailure(ctx context.Context, log *slog.Logger, userID, jobID string, cause error) {
	log.Error("dispatch failed after reservation, refunding", "err", cause)
	cleanup, cancel := cleanupContext(ctx)
	defer cancel()
	if err := s.ledger.Refund(cleanup, userID, creditsPerJob, jobID); err != nil {
		log.Error("synchronous refund failed", "err", err)
		s.alert(cleanup, log, fmt.Sprintf("refund failed for user %s job %s after dispatch error: %v", userID, jobID, err))
	}
}

// cleanupTimeout bounds compensation writes made after the request context is gone.
const cleanupTimeout = 10 * time.Second

func cleanupContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
}

// Generate renders the try-on image and stores it, returning its URL.
func (s *TryOnService) Generate(ctx context.Context, p workflow.Payload) (string, error) {
	img, err := s.generator.Generate(ctx, p.ItemURL, p.SelfieURL)
	if err != nil {
		if errors.Is(err, gemini.ErrUnavailable) {
			return "", fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
		}
		return "", fmt.Errorf("%w: %v", ErrUpstreamRejected, err)
	}
	ref, err := s.blobs.Put(ctx, storage.ResultKey(p.JobID, img.Mime), img.Bytes, img.Mime)
	if err != nil {
		return "", fmt.Errorf("store result: %w", err)
	}
	return ref, nil
}

// Finish records the outcome of a job. A successful job is completed and added
// to the user's history. A failed job is marked FAILED and its credit refunded.
// Returned errors, refund failures included, are safe to retry.
func (s *TryOnService) Finish(ctx context.Context, p workflow.Payload, out workflow.Outcome) error {
	log := s.log.With("job_id", p.JobID, "user_id", p.UserID)

	if !out.Failed && out.ResultRef != "" {
		if err := s.jobs.Complete(ctx, p.JobID, out.ResultRef); err != nil {
			if errors.Is(err, ErrJobTerminal) {
				log.Warn("job already failed, dropping result", "result", out.ResultRef)
				return nil
			}
			return err
		}
		entry := models.HistoryEntry{
			UserID:    p.UserID,
			Timestamp: s.now(),
			JobID:     p.JobID,
			ResultRef: out.ResultRef,
			ItemURL:   p.ItemURL,
			SelfieURL: p.SelfieURL,
			SiteURL:   p.SiteURL,
			SiteTitle: p.SiteTitle,
		}
		if err := s.history.Append(ctx, entry); err != nil {
			return fmt.Errorf("append history: %w", err)
		}
		log.Info("try-on job completed", "result", out.ResultRef)
		return nil
	}

	detail := out.Error
	if detail == "" {
		detail = "generation produced no result"
	}
	if err := s.jobs.Fail(ctx, p.JobID, detail); err != nil {
		if errors.Is(err, ErrJobTerminal) {
			log.Warn("job already completed, not refunding", "err", detail)
			return nil
		}
		return err
	}
	log.Warn("try-on job failed", "err", detail)

	// Fail is a no-op on a FAILED job and the refund is keyed by job, so a
	// retried Finish completes a refund that failed here.
	if err := s.ledger.Refund(ctx, p.UserID, creditsPerJob, p.JobID); err != nil {
		log.Error("refund failed", "err", err)
		return fmt.Errorf("refund job %s: %w", p.JobID, err)
	}
	return nil
}

func (s *TryOnService) History(ctx context.Context, userID string, limit int) ([]models.HistoryEntry, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	entries, err := s.history.ListByUser(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	return entries, nil
}

func (s *TryOnService) alert(ctx context.Context, log *slog.Logger, text string) {
	if s.alerts == nil {
		return
	}
	if err := s.alerts.Notify(ctx, text); err != nil {
		log.Error("alert delivery failed", "err", err)
	}
}

func validateImageURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("%w: itemUrl is required", ErrValidation)
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: itemUrl must be an absolute http(s) url", ErrValidation)
	}
	return nil
}
