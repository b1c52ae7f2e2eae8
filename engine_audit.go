package sessiongate

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/sessiongate/internal"
)

const (
	auditEventSessionCreated         = "session_created"
	auditEventSessionCookieInvalid   = "session_cookie_invalid"
	auditEventSessionLifetimeCapped  = "session_lifetime_exceeded"
	auditEventAuthorizeDenied        = "authorize_denied"
	auditEventHandshakeAuthenticated = "handshake_authenticated"
	auditEventHandshakeRejected      = "handshake_rejected"
	auditEventConnectionBound        = "connection_bound"
	auditEventConnectionUnbound      = "connection_unbound"
	auditEventSessionEstablished     = "session_established"
	auditEventLogoutSession          = "logout_session"
	auditEventLogoutAll              = "logout_all"
)

// AuditErrorCode is the stable error vocabulary used in [AuditEvent.Error].
type AuditErrorCode string

const (
	auditErrUnauthorized          AuditErrorCode = "unauthorized"
	auditErrSessionNotFound       AuditErrorCode = "session_not_found"
	auditErrSessionCreationFailed AuditErrorCode = "session_creation_failed"
	auditErrInvalidInput          AuditErrorCode = "invalid_input"
	auditErrUnavailable           AuditErrorCode = "backend_unavailable"
	auditErrInternal              AuditErrorCode = "internal_error"
)

// auditRecord carries the optional fields of one event.
type auditRecord struct {
	userID       string
	sessionID    string
	connectionID string
	ip           string
	reason       string
	err          error
	metadata     func() map[string]string
}

func (e *Engine) emitAudit(ctx context.Context, eventType string, success bool, rec auditRecord) {
	if e == nil || e.audit == nil {
		return
	}
	if rec.ip == "" {
		rec.ip = clientIPFromContext(ctx)
	}

	event := AuditEvent{
		Timestamp:    time.Now().UTC(),
		EventType:    eventType,
		UserID:       rec.userID,
		SessionID:    internal.Fingerprint(rec.sessionID),
		ConnectionID: rec.connectionID,
		IP:           rec.ip,
		Success:      success,
		Reason:       rec.reason,
	}
	if rec.metadata != nil {
		event.Metadata = rec.metadata()
	}
	if code := auditErrorCode(rec.err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrStoreUnavailable):
		return auditErrUnavailable
	case errors.Is(err, ErrUnauthorized):
		return auditErrUnauthorized
	case errors.Is(err, ErrSessionNotFound):
		return auditErrSessionNotFound
	case errors.Is(err, ErrSessionCreationFailed):
		return auditErrSessionCreationFailed
	case errors.Is(err, ErrInvalidUser),
		errors.Is(err, ErrInvalidConnectionID):
		return auditErrInvalidInput
	default:
		return auditErrInternal
	}
}
