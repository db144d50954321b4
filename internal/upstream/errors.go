package upstream

import (
	"errors"
	"fmt"
)

// FetchError wraps an upstream failure with enough shape for the orchestrator
// to scope the reaction: transient failures skip the user's slice for this
// cycle, auth failures additionally invalidate the session so the credential
// collaborator can re-authenticate.
type FetchError struct {
	Op     string // "login", "daily_classes", "calendar_filters"
	Status int    // HTTP status, 0 for transport errors

	Transient bool
	Auth      bool

	Err error
}

func (e *FetchError) Error() string {
	switch {
	case e.Status != 0 && e.Err != nil:
		return fmt.Sprintf("upstream %s: status %d: %v", e.Op, e.Status, e.Err)
	case e.Status != 0:
		return fmt.Sprintf("upstream %s: status %d", e.Op, e.Status)
	case e.Err != nil:
		return fmt.Sprintf("upstream %s: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("upstream %s failed", e.Op)
	}
}

func (e *FetchError) Unwrap() error { return e.Err }

// IsTransient reports whether err is a retry-next-cycle upstream failure
// (network, timeout, 5xx).
func IsTransient(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe) && fe.Transient
}

// IsAuthError reports whether err means the session is unusable and the user
// must re-authenticate.
func IsAuthError(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe) && fe.Auth
}
