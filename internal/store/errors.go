package store

import "errors"

var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrInvalidTransition indicates a status change the email lifecycle
	// does not allow, such as re-deciding a finalized email.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrDuplicateDecision indicates a decision record id was appended twice.
	ErrDuplicateDecision = errors.New("decision record already exists")
)
