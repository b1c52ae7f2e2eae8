package sessiongate

import (
	"context"
	"time"

	"github.com/MrEthical07/sessiongate/internal"
	"github.com/MrEthical07/sessiongate/internal/flows"
	"github.com/MrEthical07/sessiongate/session"
)

// Handshake rejection reasons, for logs and metrics.
const (
	HandshakeReasonMissingCookieHeaders    = flows.ReasonMissingCookieHeaders
	HandshakeReasonSessionSignatureInvalid = flows.ReasonSessionSignatureInvalid
	HandshakeReasonDeviceSignatureInvalid  = flows.ReasonDeviceSignatureInvalid
	HandshakeReasonSessionNotFound         = flows.ReasonSessionNotFound
	HandshakeReasonNoUserID                = flows.ReasonNoUserID
	HandshakeReasonDeviceMismatch          = flows.ReasonDeviceMismatch
	HandshakeReasonInternalError           = flows.ReasonInternalError
)

// Handshake is what a persistent connection carries at the moment it opens.
type Handshake struct {
	// CookieHeader is the raw Cookie header of the upgrade request.
	CookieHeader string
	RemoteAddr   string
}

// Identity is an authenticated connection principal. It is trusted for the connection's
// lifetime; frames are not re-authenticated.
type Identity struct {
	SessionID string
	UserUUID  string
	DeviceID  string
	Session   *session.Session
}

// AuthenticateHandshake validates the cookies replayed by a connection handshake against the
// store. The attempt is terminal: either an [Identity] or a [*HandshakeError] carrying the
// reason. It never creates or mutates a record, and never retries; on store errors the client
// must reconnect.
//
//	Performance: 1 HGETALL after both signatures verify, none before.
func (e *Engine) AuthenticateHandshake(ctx context.Context, hs Handshake) (*Identity, error) {
	if e == nil || e.codec == nil || e.store == nil {
		return nil, ErrEngineNotReady
	}
	start := time.Now()
	defer e.metricObserve(MetricHandshakeLatency, start)

	res := flows.RunHandshake(ctx, hs.CookieHeader, e.flows.Handshake)
	if res.State != flows.HandshakeAuthenticated {
		return nil, e.rejectHandshake(ctx, hs, res)
	}

	e.metricInc(MetricHandshakeAuthenticated)
	e.logger.Debug().
		Str("session", internal.Fingerprint(res.SessionID)).
		Str("remote_addr", hs.RemoteAddr).
		Msg("handshake authenticated")
	e.emitAudit(ctx, auditEventHandshakeAuthenticated, true, auditRecord{
		userID:    res.Session.UserUUID,
		sessionID: res.SessionID,
		ip:        hs.RemoteAddr,
	})

	return &Identity{
		SessionID: res.SessionID,
		UserUUID:  res.Session.UserUUID,
		DeviceID:  res.DeviceID,
		Session:   res.Session,
	}, nil
}

func (e *Engine) rejectHandshake(ctx context.Context, hs Handshake, res flows.HandshakeResult) error {
	e.metricInc(MetricHandshakeRejected)

	hsErr := &HandshakeError{Reason: res.Reason}
	switch res.Reason {
	case flows.ReasonInternalError:
		e.metricInc(MetricStoreUnavailable)
		hsErr.Err = res.Err
		e.logger.Error().
			Err(res.Err).
			Str("reason", res.Reason).
			Str("session", internal.Fingerprint(res.SessionID)).
			Str("remote_addr", hs.RemoteAddr).
			Msg("handshake failed")
	case flows.ReasonDeviceMismatch:
		e.metricInc(MetricDeviceMismatch)
		fallthrough
	default:
		e.logger.Warn().
			Str("reason", res.Reason).
			Str("session", internal.Fingerprint(res.SessionID)).
			Str("remote_addr", hs.RemoteAddr).
			Msg("handshake rejected")
	}

	var userID string
	if res.Session != nil {
		userID = res.Session.UserUUID
	}
	e.emitAudit(ctx, auditEventHandshakeRejected, false, auditRecord{
		userID:    userID,
		sessionID: res.SessionID,
		ip:        hs.RemoteAddr,
		reason:    res.Reason,
		err:       hsErr,
	})

	return hsErr
}

func (e *Engine) loadForHandshake(ctx context.Context, sessionID string) session.Lookup {
	ctx, cancel := e.storeContext(ctx)
	defer cancel()
	return e.store.Load(ctx, sessionID)
}
