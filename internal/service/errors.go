package service

import "errors"

var (
	ErrValidation          = errors.New("validation error")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrNotFound            = errors.New("not found")
	// ErrUpstreamUnavailable is surfaced only after the generation retries ran out.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	ErrUpstreamRejected    = errors.New("upstream rejected request")
	ErrSignatureInvalid    = errors.New("signature invalid")
	// ErrAlreadyProcessed marks an idempotent replay. Callers treat it as success.
	ErrAlreadyProcessed = errors.New("already processed")
	// ErrJobTerminal is returned when a job is asked to enter the other terminal state.
	ErrJobTerminal = errors.New("job already in a different terminal state")
)
