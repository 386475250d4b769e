// Package workflow runs accepted try-on jobs in the background. Each job goes
// through two steps: Generate produces the result, Finish records it.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/digkill/tryon/internal/alert"
)

// ErrRejected is returned by Start when the job was not accepted.
var ErrRejected = errors.New("workflow rejected job")

type Payload struct {
	JobID     string
	UserID    string
	ItemURL   string
	SelfieURL string
	SiteURL   string
	SiteTitle string
}

type Outcome struct {
	ResultRef string
	Failed    bool
	Error     string
}

type Steps interface {
	Generate(ctx context.Context, p Payload) (string, error)
	Finish(ctx context.Context, p Payload, out Outcome) error
}

type Config struct {
	Workers        int
	QueueSize      int
	FinishAttempts int
	FinishBackoff  time.Duration
}

type Runner struct {
	cfg    Config
	steps  Steps
	alerts alert.Notifier
	log    *slog.Logger
	sleep  func(ctx context.Context, d time.Duration) error

	mu     sync.RWMutex
	closed bool
	queue  chan Payload
}

func NewRunner(cfg Config, steps Steps, alerts alert.Notifier, log *slog.Logger) *Runner {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.FinishAttempts <= 0 {
		cfg.FinishAttempts = 3
	}
	if cfg.FinishBackoff <= 0 {
		cfg.FinishBackoff = 500 * time.Millisecond
	}
	return &Runner{
		cfg:    cfg,
		steps:  steps,
		alerts: alerts,
		log:    log,
		sleep:  sleepContext,
		queue:  make(chan Payload, cfg.QueueSize),
	}
}

// Start hands the job to the runner without waiting for it to execute.
func (r *Runner) Start(_ context.Context, p Payload) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return fmt.Errorf("%w: runner stopped", ErrRejected)
	}
	select {
	case r.queue <- p:
		return nil
	default:
		return fmt.Errorf("%w: queue full (%d)", ErrRejected, cap(r.queue))
	}
}

// Run processes jobs until ctx is cancelled, then stops accepting new jobs
// and finishes the ones already queued.
func (r *Runner) Run(ctx context.Context) error {
	work := context.WithoutCancel(ctx)

	var wg sync.WaitGroup
	for i := 0; i < r.cfg.Workers; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for p := range r.queue {
				r.execute(work, worker, p)
			}
		}(i)
	}
	r.log.Info("workflow runner started", "workers", r.cfg.Workers, "queue_size", r.cfg.QueueSize)

	<-ctx.Done()
	r.mu.Lock()
	r.closed = true
	close(r.queue)
	r.mu.Unlock()

	r.log.Info("workflow runner draining", "pending", len(r.queue))
	wg.Wait()
	r.log.Info("workflow runner stopped")
	return nil
}

func (r *Runner) execute(ctx context.Context, worker int, p Payload) {
	log := r.log.With("job_id", p.JobID, "user_id", p.UserID, "worker", worker)
	started := time.Now()

	out := r.generate(ctx, p)
	if out.Failed {
		log.Warn("generation step failed", "err", out.Error)
	} else {
		log.Info("generation step completed", "result", out.ResultRef, "took", time.Since(started).String())
	}

	wait := r.cfg.FinishBackoff
	var err error
	for attempt := 1; attempt <= r.cfg.FinishAttempts; attempt++ {
		if err = r.finish(ctx, p, out); err == nil {
			return
		}
		log.Error("finish step failed", "attempt", attempt, "err", err)
		if attempt == r.cfg.FinishAttempts {
			break
		}
		if serr := r.sleep(ctx, wait); serr != nil {
			err = serr
			break
		}
		wait *= 2
	}

	msg := fmt.Sprintf("try-on job %s (user %s) could not be finalized: %v", p.JobID, p.UserID, err)
	if aerr := r.alerts.Notify(ctx, msg); aerr != nil {
		log.Error("alert delivery failed", "err", aerr)
	}
}

func (r *Runner) generate(ctx context.Context, p Payload) (out Outcome) {
	defer func() {
		if rec := recover(); rec != nil {
			out = Outcome{Failed: true, Error: fmt.Sprintf("panic: %v", rec)}
		}
	}()
	ref, err := r.steps.Generate(ctx, p)
	if err != nil {
		return Outcome{Failed: true, Error: err.Error()}
	}
	return Outcome{ResultRef: ref}
}

func (r *Runner) finish(ctx context.Context, p Payload, out Outcome) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return r.steps.Finish(ctx, p, out)
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
