// Package memory holds in-process stores with the same conditional-write
// semantics as the MySQL repositories. Each store serializes writes under one
// mutex, which stands in for the per-row atomicity of the real database.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/digkill/tryon/internal/models"
	"github.com/digkill/tryon/internal/repository"
)

type account struct {
	models.UserAccount
	keys map[string]struct{}
}

type Users struct {
	mu       sync.Mutex
	accounts map[string]*account
	images   map[string][]models.UserImage
	now      func() time.Time
}

func NewUsers() *Users {
	return &Users{
		accounts: make(map[string]*account),
		images:   make(map[string][]models.UserImage),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Put replaces an account wholesale. Tests use it to seed legacy rows.
func (u *Users) Put(acc models.UserAccount) {
	u.mu.Lock()
	defer u.mu.Unlock()
	a := u.row(acc.UserID)
	keys := a.keys
	a.UserAccount = copyAccount(acc)
	a.keys = keys
}

func (u *Users) Get(_ context.Context, userID string) (*models.UserAccount, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	a, ok := u.accounts[userID]
	if !ok {
		return nil, nil
	}
	out := copyAccount(a.UserAccount)
	return &out, nil
}

func (u *Users) Ensure(_ context.Context, profile models.Profile, startingCredits int) (*models.UserAccount, bool, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	a, ok := u.accounts[profile.UserID]
	created := !ok
	if created {
		a = u.row(profile.UserID)
		credits := startingCredits
		a.Credits = &credits
	}
	if profile.Email != "" {
		a.Email = profile.Email
	}
	if profile.Name != "" {
		a.Name = profile.Name
	}
	if profile.Picture != "" {
		a.Picture = profile.Picture
	}
	a.UpdatedAt = u.now()
	out := copyAccount(a.UserAccount)
	return &out, created, nil
}

func (u *Users) Debit(_ context.Context, userID string, amount, defaultBalance int) (repository.Outcome, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	a := u.row(userID)
	balance := a.Balance(defaultBalance)
	if balance < amount {
		return repository.PreconditionFailed, nil
	}
	balance -= amount
	a.Credits = &balance
	a.UpdatedAt = u.now()
	return repository.Applied, nil
}

func (u *Users) Credit(_ context.Context, userID string, amount, defaultBalance int, key string) (repository.Outcome, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	a := u.row(userID)
	if key != "" {
		if _, seen := a.keys[key]; seen {
			return repository.PreconditionFailed, nil
		}
		a.keys[key] = struct{}{}
	}
	balance := a.Balance(defaultBalance) + amount
	a.Credits = &balance
	a.UpdatedAt = u.now()
	return repository.Applied, nil
}

// Processed reports whether key has been recorded for the user.
func (u *Users) Processed(userID, key string) bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	a, ok := u.accounts[userID]
	if !ok {
		return false
	}
	_, seen := a.keys[key]
	return seen
}

func (u *Users) AddImage(_ context.Context, img models.UserImage, limit int) (repository.Outcome, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if len(u.images[img.UserID]) >= limit {
		return repository.PreconditionFailed, nil
	}
	if img.CreatedAt.IsZero() {
		img.CreatedAt = u.now()
	}
	u.images[img.UserID] = append(u.images[img.UserID], img)
	return repository.Applied, nil
}

func (u *Users) ListImages(_ context.Context, userID string) ([]models.UserImage, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]models.UserImage(nil), u.images[userID]...), nil
}

func (u *Users) FindImage(_ context.Context, userID, imageID string) (*models.UserImage, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	for _, img := range u.images[userID] {
		if img.ID == imageID {
			found := img
			return &found, nil
		}
	}
	return nil, nil
}

func (u *Users) DeleteImage(_ context.Context, userID, imageID string) (bool, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	images := u.images[userID]
	for i, img := range images {
		if img.ID == imageID {
			u.images[userID] = append(images[:i:i], images[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

// row returns the account for userID, creating a bare one (no credits value)
// the way the MySQL store's INSERT IGNORE does. Callers hold u.mu.
func (u *Users) row(userID string) *account {
	a, ok := u.accounts[userID]
	if !ok {
		now := u.now()
		a = &account{
			UserAccount: models.UserAccount{UserID: userID, CreatedAt: now, UpdatedAt: now},
			keys:        make(map[string]struct{}),
		}
		u.accounts[userID] = a
	}
	return a
}

func copyAccount(a models.UserAccount) models.UserAccount {
	if a.Credits != nil {
		c := *a.Credits
		a.Credits = &c
	}
	return a
}

type Jobs struct {
	mu   sync.Mutex
	jobs map[string]models.Job
}

func NewJobs() *Jobs {
	return &Jobs{jobs: make(map[string]models.Job)}
}

func (j *Jobs) Create(_ context.Context, job *models.Job) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.jobs[job.ID] = *job
	return nil
}

func (j *Jobs) Get(_ context.Context, jobID string) (*models.Job, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	job, ok := j.jobs[jobID]
	if !ok {
		return nil, nil
	}
	return &job, nil
}

func (j *Jobs) Transition(_ context.Context, jobID string, to models.JobStatus, resultRef, errDetail string, at time.Time) (repository.Outcome, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	job, ok := j.jobs[jobID]
	if !ok || job.Status != models.JobStatusProcessing {
		return repository.PreconditionFailed, nil
	}
	job.Status = to
	job.ResultRef = resultRef
	job.Error = errDetail
	job.UpdatedAt = at
	j.jobs[jobID] = job
	return repository.Applied, nil
}

type History struct {
	mu      sync.Mutex
	entries map[string][]models.HistoryEntry
	jobs    map[string]struct{}
}

func NewHistory() *History {
	return &History{
		entries: make(map[string][]models.HistoryEntry),
		jobs:    make(map[string]struct{}),
	}
}

func (h *History) Append(_ context.Context, entry models.HistoryEntry) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, seen := h.jobs[entry.JobID]; seen {
		return nil
	}
	h.jobs[entry.JobID] = struct{}{}
	h.entries[entry.UserID] = append(h.entries[entry.UserID], entry)
	return nil
}

func (h *History) ListByUser(_ context.Context, userID string, limit int) ([]models.HistoryEntry, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := append([]models.HistoryEntry(nil), h.entries[userID]...)
	sort.SliceStable(out, func(a, b int) bool {
		return out[a].Timestamp.After(out[b].Timestamp)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
