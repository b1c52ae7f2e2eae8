package sessiongate

import (
	"context"

	"github.com/MrEthical07/sessiongate/internal"
	"github.com/MrEthical07/sessiongate/session"
)

// BindConnection records connectionID on the session after a successful handshake. The store
// refuses to bind to a missing record ([ErrSessionNotFound]) or an anonymous one
// ([ErrUnauthorized]). Binding the same id again is a no-op.
//
// A session may hold several connections at once, one per open tab.
//
//	Performance: 1 Lua EVALSHA.
//	Security: the user check and the write are one atomic script.
func (e *Engine) BindConnection(ctx context.Context, sessionID, connectionID string) error {
	if e == nil || e.store == nil {
		return ErrEngineNotReady
	}
	if connectionID == "" {
		return ErrInvalidConnectionID
	}

	storeCtx, cancel := e.storeContext(ctx)
	defer cancel()

	status, err := e.store.BindConnection(storeCtx, sessionID, connectionID, e.now())
	if err != nil {
		return e.storeFailure(ctx, "bind", sessionID, err)
	}

	switch status {
	case session.BindBound:
		e.metricInc(MetricConnectionBound)
		e.emitAudit(ctx, auditEventConnectionBound, true, auditRecord{
			sessionID:    sessionID,
			connectionID: connectionID,
		})
		return nil
	case session.BindNoUser:
		e.logger.Warn().
			Str("reason", DenyNoUserID).
			Str("session", internal.Fingerprint(sessionID)).
			Msg("bind refused for anonymous session")
		e.emitAudit(ctx, auditEventConnectionBound, false, auditRecord{
			sessionID:    sessionID,
			connectionID: connectionID,
			reason:       DenyNoUserID,
			err:          ErrUnauthorized,
		})
		return ErrUnauthorized
	default:
		e.emitAudit(ctx, auditEventConnectionBound, false, auditRecord{
			sessionID:    sessionID,
			connectionID: connectionID,
			err:          ErrSessionNotFound,
		})
		return ErrSessionNotFound
	}
}

// UnbindConnection removes connectionID from the session when the connection closes. The
// session itself survives, and a record that is already gone stays gone.
//
//	Performance: 1 HDEL.
func (e *Engine) UnbindConnection(ctx context.Context, sessionID, connectionID string) error {
	if e == nil || e.store == nil {
		return ErrEngineNotReady
	}
	if connectionID == "" {
		return ErrInvalidConnectionID
	}

	storeCtx, cancel := e.storeContext(ctx)
	defer cancel()

	if err := e.store.UnbindConnection(storeCtx, sessionID, connectionID); err != nil {
		return e.storeFailure(ctx, "unbind", sessionID, err)
	}

	e.metricInc(MetricConnectionUnbound)
	e.emitAudit(ctx, auditEventConnectionUnbound, true, auditRecord{
		sessionID:    sessionID,
		connectionID: connectionID,
	})
	return nil
}

// ConnectionIDs returns the connections currently bound to a session.
func (e *Engine) ConnectionIDs(ctx context.Context, sessionID string) ([]string, error) {
	sess, err := e.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return sess.ConnectionIDs, nil
}
