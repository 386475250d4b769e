package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/digkill/tryon/internal/models"
)

type JobRepository struct {
	db *sql.DB
}

func NewJobRepository(db *sql.DB) *JobRepository {
	return &JobRepository{db: db}
}

func (r *JobRepository) Create(ctx context.Context, job *models.Job) error {
	const query = `
INSERT INTO jobs (job_id, user_id, status, created_at, updated_at)
VALUES (?, ?, ?, ?, ?)`
	if _, err := r.db.ExecContext(ctx, query, job.ID, job.UserID, job.Status, job.CreatedAt, job.UpdatedAt); err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

func (r *JobRepository) Get(ctx context.Context, jobID string) (*models.Job, error) {
	const query = `
SELECT job_id, user_id, status, COALESCE(result_ref, ''), COALESCE(error_detail, ''), created_at, updated_at
FROM jobs WHERE job_id = ?`
	var j models.Job
	err := r.db.QueryRowContext(ctx, query, jobID).
		Scan(&j.ID, &j.UserID, &j.Status, &j.ResultRef, &j.Error, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan job: %w", err)
	}
	return &j, nil
}

// Transition moves a PROCESSING job to a terminal status. Any other current
// status leaves the row untouched and reports PreconditionFailed.
func (r *JobRepository) Transition(ctx context.Context, jobID string, to models.JobStatus, resultRef, errDetail string, at time.Time) (Outcome, error) {
	const query = `
UPDATE jobs SET status = ?, result_ref = NULLIF(?, ''), error_detail = NULLIF(?, ''), updated_at = ?
WHERE job_id = ? AND status = ?`
	res, err := r.db.ExecContext(ctx, query, to, resultRef, errDetail, at, jobID, models.JobStatusProcessing)
	if err != nil {
		return PreconditionFailed, fmt.Errorf("transition job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return PreconditionFailed, fmt.Errorf("job rows affected: %w", err)
	}
	if affected == 0 {
		return PreconditionFailed, nil
	}
	return Applied, nil
}
