package models

import "time"

type JobStatus string

const (
	JobStatusProcessing JobStatus = "PROCESSING"
	JobStatusCompleted  JobStatus = "COMPLETED"
	JobStatusFailed     JobStatus = "FAILED"
)

// Terminal reports whether no further transition is allowed from s.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// UserAccount is the per-user ledger row. Credits is nil for legacy accounts
// that never had a balance materialized; readers apply the starting default.
type UserAccount struct {
	UserID    string
	Credits   *int
	Email     string
	Name      string
	Picture   string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Balance returns the effective balance, materializing def for a missing value.
func (a *UserAccount) Balance(def int) int {
	if a == nil || a.Credits == nil {
		return def
	}
	return *a.Credits
}

type UserImage struct {
	ID        string
	UserID    string
	Name      string
	URL       string
	Key       string
	CreatedAt time.Time
}

type Job struct {
	ID        string
	UserID    string
	Status    JobStatus
	ResultRef string
	Error     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type HistoryEntry struct {
	UserID    string
	Timestamp time.Time
	JobID     string
	ResultRef string
	ItemURL   string
	SelfieURL string
	SiteURL   string
	SiteTitle string
}

// PaymentEvent is the normalized view of a provider notification. Only
// PaymentID is retained after crediting.
type PaymentEvent struct {
	UserID    string
	PaymentID string
	Status    string
	Amount    string
	Products  []PaymentProduct
}

type PaymentProduct struct {
	SKU      string
	Quantity int
}

// Profile is what the identity provider knows about a caller. Only UserID is
// required; the other attributes are cosmetic.
type Profile struct {
	UserID  string
	Email   string
	Name    string
	Picture string
}
