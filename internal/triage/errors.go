package triage

import "errors"

// Error taxonomy for the triage pipeline. Components wrap these sentinels
// with fmt.Errorf("...: %w", ...) so callers can classify failures with
// errors.Is regardless of which layer produced them.
var (
	// ErrProviderUnavailable indicates a transient failure in an external
	// provider (network, quota, rate limit). Safe to retry with backoff.
	ErrProviderUnavailable = errors.New("provider unavailable")

	// ErrInvalidInput indicates a caller error (empty or oversized text).
	// Never retried; the offending item is skipped.
	ErrInvalidInput = errors.New("invalid input")

	// ErrIndexEmpty indicates the preference index holds zero vectors.
	// Recoverable: callers proceed with empty context, not a hard failure.
	ErrIndexEmpty = errors.New("preference index is empty")

	// ErrClassificationFailed indicates the agent exhausted its retries.
	// Terminal for the item this cycle; the email stays unclassified.
	ErrClassificationFailed = errors.New("classification failed")
)

// IsRetryable reports whether err is worth retrying with backoff.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrProviderUnavailable)
}
