// Package apperrors defines the error taxonomy shared across the wise CLI.
//
// Every remote or auth failure is mapped onto one of these values so the
// chat dispatch loop can decide whether to re-authenticate, retry, or just
// tell the user what happened.
package apperrors

import (
	"errors"
	"fmt"
)

var (
	// ErrAuthExpired means the refresh credential was rejected. The caller
	// must re-run the consent flow; retrying with the same credential is
	// never correct.
	ErrAuthExpired = errors.New("authentication expired")

	// ErrConsentDenied means the user aborted the OAuth consent flow.
	ErrConsentDenied = errors.New("consent denied")

	// ErrNotFound means the named project, dataset, or table does not exist.
	ErrNotFound = errors.New("not found")
)

// QueryError carries the remote engine's validation message verbatim.
// It is surfaced to the user and never retried.
type QueryError struct {
	Status  int
	Message string
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("query rejected (%d): %s", e.Status, e.Message)
}

// TransientError wraps a network or 5xx failure that survived bounded retry.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient failure: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// TimeoutError means job polling exceeded its elapsed-time ceiling. The
// remote job is orphaned; JobID lets a caller resume polling by hand.
type TimeoutError struct {
	JobID string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("job %s did not complete before the polling ceiling", e.JobID)
}

// IsRecoverable reports whether err should send the session back to the
// authentication state instead of aborting the command outright.
func IsRecoverable(err error) bool {
	return errors.Is(err, ErrAuthExpired)
}
