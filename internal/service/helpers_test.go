package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/digkill/tryon/internal/gemini"
	"github.com/digkill/tryon/internal/models"
	"github.com/digkill/tryon/internal/repository"
	"github.com/digkill/tryon/internal/repository/memory"
	"github.com/digkill/tryon/internal/workflow"
)

const testDefaultCredits = 5

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeGenerator struct {
	err   error
	calls int
}

func (f *fakeGenerator) Generate(_ context.Context, itemURL, selfieURL string) (*gemini.Image, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &gemini.Image{Bytes: []byte("png:" + itemURL + "|" + selfieURL), Mime: "image/png"}, nil
}

type fakeBlobs struct {
	mu      sync.Mutex
	objects map[string][]byte
	deleted []string
	putErr  error
}

func newFakeBlobs() *fakeBlobs {
	return &fakeBlobs{objects: make(map[string][]byte)}
}

func (f *fakeBlobs) Put(_ context.Context, key string, data []byte, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.putErr != nil {
		return "", f.putErr
	}
	f.objects[key] = data
	return f.URL(key), nil
}

func (f *fakeBlobs) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, key)
	f.deleted = append(f.deleted, key)
	return nil
}

func (f *fakeBlobs) PresignUpload(_ context.Context, key, _ string, ttl time.Duration) (string, error) {
	return "https://bucket.example.com/" + key + "?X-Amz-Expires=" + ttl.String(), nil
}

func (f *fakeBlobs) URL(key string) string {
	return "https://cdn.example.com/" + key
}

// queueRunner records payloads instead of running them.
type queueRunner struct {
	started []workflow.Payload
	err     error
}

func (q *queueRunner) Start(_ context.Context, p workflow.Payload) error {
	if q.err != nil {
		return q.err
	}
	q.started = append(q.started, p)
	return nil
}

type recordingAlerts struct {
	mu   sync.Mutex
	sent []string
}

func (r *recordingAlerts) Notify(_ context.Context, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, text)
	return nil
}

// flakyCredits fails the first failures Credit calls; a negative count fails
// every call.
type flakyCredits struct {
	*memory.Users
	mu       sync.Mutex
	failures int
	calls    int
}

func (f *flakyCredits) Credit(ctx context.Context, userID string, amount, defaultBalance int, key string) (repository.Outcome, error) {
	f.mu.Lock()
	f.calls++
	fail := f.failures != 0
	if f.failures > 0 {
		f.failures--
	}
	f.mu.Unlock()
	if fail {
		return repository.PreconditionFailed, errors.New("store unavailable")
	}
	return f.Users.Credit(ctx, userID, amount, defaultBalance, key)
}

// ctxCredits rejects writes on a finished context, as database/sql does.
type ctxCredits struct {
	*memory.Users
}

func (c ctxCredits) Credit(ctx context.Context, userID string, amount, defaultBalance int, key string) (repository.Outcome, error) {
	if err := ctx.Err(); err != nil {
		return repository.PreconditionFailed, err
	}
	return c.Users.Credit(ctx, userID, amount, defaultBalance, key)
}

func (c ctxCredits) Debit(ctx context.Context, userID string, amount, defaultBalance int) (repository.Outcome, error) {
	if err := ctx.Err(); err != nil {
		return repository.PreconditionFailed, err
	}
	return c.Users.Debit(ctx, userID, amount, defaultBalance)
}

// brokenJobs fails Create with err after running onCreate.
type brokenJobs struct {
	*memory.Jobs
	err      error
	onCreate func()
}

func (b brokenJobs) Create(context.Context, *models.Job) error {
	if b.onCreate != nil {
		b.onCreate()
	}
	return b.err
}

func (b brokenJobs) Transition(ctx context.Context, jobID string, to models.JobStatus, resultRef, errDetail string, at time.Time) (repository.Outcome, error) {
	if err := ctx.Err(); err != nil {
		return repository.PreconditionFailed, err
	}
	return b.Jobs.Transition(ctx, jobID, to, resultRef, errDetail, at)
}

type fixture struct {
	users   *memory.Users
	jobs    *memory.Jobs
	history *memory.History
	ledger  *Ledger
	jobSvc  *JobService
	tryOn   *TryOnService
	gen     *fakeGenerator
	blobs   *fakeBlobs
	runner  *queueRunner
	alerts  *recordingAlerts
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		users:   memory.NewUsers(),
		jobs:    memory.NewJobs(),
		history: memory.NewHistory(),
		gen:     &fakeGenerator{},
		blobs:   newFakeBlobs(),
		runner:  &queueRunner{},
		alerts:  &recordingAlerts{},
	}
	f.ledger = NewLedger(f.users, testDefaultCredits, testLogger())
	f.jobSvc = NewJobService(f.jobs)
	f.tryOn = NewTryOnService(f.ledger, f.jobSvc, f.users, f.history, f.gen, f.blobs, f.alerts, testLogger())
	f.tryOn.UseRunner(f.runner)
	return f
}

// addSelfie stores a selfie for userID and returns its id.
func (f *fixture) addSelfie(t *testing.T, userID string) string {
	t.Helper()
	img := models.UserImage{ID: "selfie-" + userID, UserID: userID, Name: "me.jpg", URL: "https://cdn.example.com/uploads/" + userID + "/me.jpg", Key: "uploads/" + userID + "/me.jpg"}
	if _, err := f.users.AddImage(context.Background(), img, 5); err != nil {
		t.Fatalf("AddImage returned error: %v", err)
	}
	return img.ID
}

func (f *fixture) balance(t *testing.T, userID string) int {
	t.Helper()
	b, err := f.ledger.Balance(context.Background(), userID)
	if err != nil {
		t.Fatalf("Balance returned error: %v", err)
	}
	return b
}

func intPtr(v int) *int { return &v }
