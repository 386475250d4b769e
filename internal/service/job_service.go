package service

import (
	"context"
	"fmt"
	"time"

	"github.com/digkill/tryon/internal/models"
	"github.com/digkill/tryon/internal/repository"
)

type JobService struct {
	jobs JobStore
	now  func() time.Time
}

func NewJobService(jobs JobStore) *JobService {
	return &JobService{jobs: jobs, now: func() time.Time { return time.Now().UTC() }}
}

func (s *JobService) Create(ctx context.Context, jobID, userID string) (*models.Job, error) {
	now := s.now()
	job := &models.Job{
		ID:        jobID,
		UserID:    userID,
		Status:    models.JobStatusProcessing,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.jobs.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	return job, nil
}

// Complete moves the job to COMPLETED. Repeating it is a no-op.
func (s *JobService) Complete(ctx context.Context, jobID, resultRef string) error {
	return s.transition(ctx, jobID, models.JobStatusCompleted, resultRef, "")
}

// Fail moves the job to FAILED. Repeating it is a no-op.
func (s *JobService) Fail(ctx context.Context, jobID, detail string) error {
	if detail == "" {
		detail = "unknown error"
	}
	return s.transition(ctx, jobID, models.JobStatusFailed, "", detail)
}

func (s *JobService) transition(ctx context.Context, jobID string, to models.JobStatus, resultRef, detail string) error {
	outcome, err := s.jobs.Transition(ctx, jobID, to, resultRef, detail, s.now())
	if err != nil {
		return fmt.Errorf("transition job %s: %w", jobID, err)
	}
	if outcome == repository.Applied {
		return nil
	}

	current, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		return fmt.Errorf("get job %s: %w", jobID, err)
	}
	switch {
	case current == nil:
		return fmt.Errorf("job %s: %w", jobID, ErrNotFound)
	case current.Status == to:
		return nil
	default:
		return fmt.Errorf("job %s is %s: %w", jobID, current.Status, ErrJobTerminal)
	}
}

// Get returns ErrNotFound when the job does not exist.
func (s *JobService) Get(ctx context.Context, jobID string) (*models.Job, error) {
	job, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", jobID, err)
	}
	if job == nil {
		return nil, fmt.Errorf("job %s: %w", jobID, ErrNotFound)
	}
	return job, nil
}

// Status reads a job for polling clients. A job that is not stored yet is
// reported as PROCESSING.
func (s *JobService) Status(ctx context.Context, jobID string) (*models.Job, error) {
	job, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", jobID, err)
	}
	if job == nil {
		return &models.Job{ID: jobID, Status: models.JobStatusProcessing}, nil
	}
	return job, nil
}
