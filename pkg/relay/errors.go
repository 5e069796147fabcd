package relay

import (
	"errors"
	"fmt"
)

// ErrPrerequisiteMissing indicates a required local prerequisite (external
// tool, environment variable, or public key file) is absent. Callers should
// exit before making any remote call.
var ErrPrerequisiteMissing = errors.New("prerequisite missing")

// ErrMalformedResponse indicates the service response did not match the
// expected structural pattern. Callers must not proceed to config mutation
// or launch with a malformed descriptor.
var ErrMalformedResponse = errors.New("malformed session response")

// RemoteFailureError reports a relay session that reached a terminal failed
// state on the service side. It is never retried automatically.
type RemoteFailureError struct {
	// SessionID is the identifier of the failed session.
	SessionID string
	// Reason is the remote-supplied failure detail (may be empty).
	Reason string
}

func (e *RemoteFailureError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("relay session %s failed", e.SessionID)
	}
	return fmt.Sprintf("relay session %s failed: %s", e.SessionID, e.Reason)
}
