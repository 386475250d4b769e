package service

import (
	"context"
	"time"

	"github.com/digkill/tryon/internal/gemini"
	"github.com/digkill/tryon/internal/models"
	"github.com/digkill/tryon/internal/repository"
	"github.com/digkill/tryon/internal/workflow"
)

// AccountStore is implemented by repository.UserRepository and memory.Users.
type AccountStore interface {
	Get(ctx context.Context, userID string) (*models.UserAccount, error)
	Ensure(ctx context.Context, profile models.Profile, startingCredits int) (*models.UserAccount, bool, error)
	Debit(ctx context.Context, userID string, amount, defaultBalance int) (repository.Outcome, error)
	Credit(ctx context.Context, userID string, amount, defaultBalance int, key string) (repository.Outcome, error)
}

type ImageStore interface {
	AddImage(ctx context.Context, img models.UserImage, limit int) (repository.Outcome, error)
	ListImages(ctx context.Context, userID string) ([]models.UserImage, error)
	FindImage(ctx context.Context, userID, imageID string) (*models.UserImage, error)
	DeleteImage(ctx context.Context, userID, imageID string) (bool, error)
}

type JobStore interface {
	Create(ctx context.Context, job *models.Job) error
	Get(ctx context.Context, jobID string) (*models.Job, error)
	Transition(ctx context.Context, jobID string, to models.JobStatus, resultRef, errDetail string, at time.Time) (repository.Outcome, error)
}

type HistoryStore interface {
	Append(ctx context.Context, entry models.HistoryEntry) error
	ListByUser(ctx context.Context, userID string, limit int) ([]models.HistoryEntry, error)
}

type Generator interface {
	Generate(ctx context.Context, itemURL, selfieURL string) (*gemini.Image, error)
}

type BlobStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
	Delete(ctx context.Context, key string) error
	PresignUpload(ctx context.Context, key, contentType string, ttl time.Duration) (string, error)
	URL(key string) string
}

type Runner interface {
	Start(ctx context.Context, p workflow.Payload) error
}
