package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/digkill/tryon/internal/models"
)

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type UserRepository struct {
	db *sql.DB
}

func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) Get(ctx context.Context, userID string) (*models.UserAccount, error) {
	const query = `
SELECT user_id, credits, COALESCE(email, ''), COALESCE(name, ''), COALESCE(picture, ''), created_at, updated_at
FROM users WHERE user_id = ?`
	row := r.db.QueryRowContext(ctx, query, userID)
	var u models.UserAccount
	var credits sql.NullInt64
	if err := row.Scan(&u.UserID, &credits, &u.Email, &u.Name, &u.Picture, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}
	if credits.Valid {
		c := int(credits.Int64)
		u.Credits = &c
	}
	return &u, nil
}

// Ensure creates the account with startingCredits if it does not exist and
// refreshes non-empty profile attributes otherwise.
func (r *UserRepository) Ensure(ctx context.Context, profile models.Profile, startingCredits int) (*models.UserAccount, bool, error) {
	const insert = `
INSERT IGNORE INTO users (user_id, credits, email, name, picture)
VALUES (?, ?, NULLIF(?, ''), NULLIF(?, ''), NULLIF(?, ''))`
	res, err := r.db.ExecContext(ctx, insert, profile.UserID, startingCredits, profile.Email, profile.Name, profile.Picture)
	if err != nil {
		return nil, false, fmt.Errorf("insert user: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("user rows affected: %w", err)
	}
	created := affected > 0

	if !created && (profile.Email != "" || profile.Name != "" || profile.Picture != "") {
		const update = `
UPDATE users SET email = COALESCE(NULLIF(?, ''), email), name = COALESCE(NULLIF(?, ''), name), picture = COALESCE(NULLIF(?, ''), picture)
WHERE user_id = ?`
		if _, err := r.db.ExecContext(ctx, update, profile.Email, profile.Name, profile.Picture, profile.UserID); err != nil {
			return nil, false, fmt.Errorf("update profile: %w", err)
		}
	}

	user, err := r.Get(ctx, profile.UserID)
	if err != nil {
		return nil, false, err
	}
	if user == nil {
		return nil, false, fmt.Errorf("user %s vanished after insert", profile.UserID)
	}
	return user, created, nil
}

// ensureRow creates a bare account without a credits value. It never touches
// an existing row, so it is safe to run ahead of any balance mutation.
func ensureRow(ctx context.Context, exec execer, userID string) error {
	if _, err := exec.ExecContext(ctx, `INSERT IGNORE INTO users (user_id) VALUES (?)`, userID); err != nil {
		return fmt.Errorf("ensure user row: %w", err)
	}
	return nil
}

// Debit subtracts amount in a single guarded UPDATE. A NULL balance is
// treated as defaultBalance inside the same statement.
func (r *UserRepository) Debit(ctx context.Context, userID string, amount, defaultBalance int) (Outcome, error) {
	if err := ensureRow(ctx, r.db, userID); err != nil {
		return PreconditionFailed, err
	}
	const query = `
UPDATE users SET credits = COALESCE(credits, ?) - ?, updated_at = CURRENT_TIMESTAMP(6)
WHERE user_id = ? AND COALESCE(credits, ?) >= ?`
	res, err := r.db.ExecContext(ctx, query, defaultBalance, amount, userID, defaultBalance, amount)
	if err != nil {
		return PreconditionFailed, fmt.Errorf("debit credits: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return PreconditionFailed, fmt.Errorf("debit rows affected: %w", err)
	}
	if affected == 0 {
		return PreconditionFailed, nil
	}
	return Applied, nil
}

// Credit adds amount to the balance. With a non-empty key the increment and
// the key record commit together, and a key seen before yields PreconditionFailed.
func (r *UserRepository) Credit(ctx context.Context, userID string, amount, defaultBalance int, key string) (Outcome, error) {
	const update = `
UPDATE users SET credits = COALESCE(credits, ?) + ?, updated_at = CURRENT_TIMESTAMP(6)
WHERE user_id = ?`

	if key == "" {
		if err := ensureRow(ctx, r.db, userID); err != nil {
			return PreconditionFailed, err
		}
		if _, err := r.db.ExecContext(ctx, update, defaultBalance, amount, userID); err != nil {
			return PreconditionFailed, fmt.Errorf("credit user: %w", err)
		}
		return Applied, nil
	}

	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return PreconditionFailed, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := ensureRow(ctx, tx, userID); err != nil {
		return PreconditionFailed, err
	}

	res, err := tx.ExecContext(ctx, `INSERT IGNORE INTO credit_keys (idempotency_key, user_id, amount) VALUES (?, ?, ?)`, key, userID, amount)
	if err != nil {
		return PreconditionFailed, fmt.Errorf("record credit key: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return PreconditionFailed, fmt.Errorf("credit key rows affected: %w", err)
	}
	if affected == 0 {
		return PreconditionFailed, nil
	}

	if _, err := tx.ExecContext(ctx, update, defaultBalance, amount, userID); err != nil {
		return PreconditionFailed, fmt.Errorf("credit user: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return PreconditionFailed, fmt.Errorf("commit credit tx: %w", err)
	}
	return Applied, nil
}

// AddImage stores img unless the user already has limit images.
func (r *UserRepository) AddImage(ctx context.Context, img models.UserImage, limit int) (Outcome, error) {
	const query = `
INSERT INTO user_images (id, user_id, name, url, object_key)
SELECT ?, ?, ?, ?, ? FROM DUAL
WHERE (SELECT COUNT(*) FROM user_images WHERE user_id = ?) < ?`
	res, err := r.db.ExecContext(ctx, query, img.ID, img.UserID, img.Name, img.URL, img.Key, img.UserID, limit)
	if err != nil {
		return PreconditionFailed, fmt.Errorf("insert image: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return PreconditionFailed, fmt.Errorf("image rows affected: %w", err)
	}
	if affected == 0 {
		return PreconditionFailed, nil
	}
	return Applied, nil
}

func (r *UserRepository) ListImages(ctx context.Context, userID string) ([]models.UserImage, error) {
	const query = `
SELECT id, user_id, name, url, object_key, created_at
FROM user_images WHERE user_id = ? ORDER BY created_at, id`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list images: %w", err)
	}
	defer rows.Close()

	var images []models.UserImage
	for rows.Next() {
		var img models.UserImage
		if err := rows.Scan(&img.ID, &img.UserID, &img.Name, &img.URL, &img.Key, &img.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan image: %w", err)
		}
		images = append(images, img)
	}
	return images, rows.Err()
}

func (r *UserRepository) FindImage(ctx context.Context, userID, imageID string) (*models.UserImage, error) {
	const query = `
SELECT id, user_id, name, url, object_key, created_at
FROM user_images WHERE user_id = ? AND id = ?`
	var img models.UserImage
	err := r.db.QueryRowContext(ctx, query, userID, imageID).
		Scan(&img.ID, &img.UserID, &img.Name, &img.URL, &img.Key, &img.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan image: %w", err)
	}
	return &img, nil
}

func (r *UserRepository) DeleteImage(ctx context.Context, userID, imageID string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM user_images WHERE user_id = ? AND id = ?`, userID, imageID)
	if err != nil {
		return false, fmt.Errorf("delete image: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("image rows affected: %w", err)
	}
	return affected > 0, nil
}
