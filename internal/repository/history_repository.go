package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/digkill/tryon/internal/models"
)

type HistoryRepository struct {
	db *sql.DB
}

func NewHistoryRepository(db *sql.DB) *HistoryRepository {
	return &HistoryRepository{db: db}
}

// Append writes one entry per job; a repeated append for the same job is ignored.
func (r *HistoryRepository) Append(ctx context.Context, entry models.HistoryEntry) error {
	const query = `
INSERT IGNORE INTO generation_history (user_id, created_at, job_id, result_ref, item_url, selfie_url, site_url, site_title)
VALUES (?, ?, ?, ?, ?, ?, NULLIF(?, ''), NULLIF(?, ''))`
	if _, err := r.db.ExecContext(ctx, query, entry.UserID, entry.Timestamp, entry.JobID, entry.ResultRef, entry.ItemURL, entry.SelfieURL, entry.SiteURL, entry.SiteTitle); err != nil {
		return fmt.Errorf("insert history entry: %w", err)
	}
	return nil
}

// ListByUser returns the newest entries first.
func (r *HistoryRepository) ListByUser(ctx context.Context, userID string, limit int) ([]models.HistoryEntry, error) {
	const query = `
SELECT user_id, created_at, job_id, result_ref, item_url, selfie_url, COALESCE(site_url, ''), COALESCE(site_title, '')
FROM generation_history WHERE user_id = ?
ORDER BY created_at DESC, job_id DESC
LIMIT ?`
	rows, err := r.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()

	var entries []models.HistoryEntry
	for rows.Next() {
		var e models.HistoryEntry
		if err := rows.Scan(&e.UserID, &e.Timestamp, &e.JobID, &e.ResultRef, &e.ItemURL, &e.SelfieURL, &e.SiteURL, &e.SiteTitle); err != nil {
			return nil, fmt.Errorf("scan history entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
