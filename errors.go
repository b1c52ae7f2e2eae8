package sessiongate

import "errors"

var (
	// ErrUnauthorized is returned for every authorization denial. The specific reason is
	// logged and audited, never returned.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrStoreUnavailable means the session store could not answer. Callers must not treat it
	// as an anonymous session.
	ErrStoreUnavailable = errors.New("session store unavailable")
	// ErrSessionNotFound means the record is absent or expired.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionCreationFailed is returned when a new record could not be written.
	ErrSessionCreationFailed = errors.New("session creation failed")
	// ErrInvalidUser is returned by Establish for an empty or oversized user id.
	ErrInvalidUser = errors.New("invalid user id")
	// ErrInvalidConnectionID is returned for an empty connection id.
	ErrInvalidConnectionID = errors.New("invalid connection id")
	// ErrEngineNotReady is returned when a nil or unbuilt Engine is used.
	ErrEngineNotReady = errors.New("engine not initialized")
)

// HandshakeError is returned by AuthenticateHandshake for every rejection. Error() is the
// same for every reason so it can be shown to the peer; Reason is for logs and metrics.
type HandshakeError struct {
	Reason string
	Err    error
}

func (e *HandshakeError) Error() string {
	if e.Reason == HandshakeReasonInternalError {
		return "internal error"
	}
	return "unauthorized"
}

// Unwrap maps the rejection onto the package sentinels so callers can branch with errors.Is.
func (e *HandshakeError) Unwrap() []error {
	if e.Reason == HandshakeReasonInternalError {
		if e.Err != nil {
			return []error{ErrStoreUnavailable, e.Err}
		}
		return []error{ErrStoreUnavailable}
	}
	return []error{ErrUnauthorized}
}
