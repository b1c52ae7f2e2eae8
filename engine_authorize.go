package sessiongate

import (
	"context"

	"github.com/MrEthical07/sessiongate/internal"
	"github.com/MrEthical07/sessiongate/internal/flows"
	"github.com/MrEthical07/sessiongate/session"
)

// Deny reasons logged by Authorize. Capability denials log "capability:<name>".
const (
	DenyNoDeviceCookie      = flows.ReasonNoDeviceCookie
	DenyInvalidDeviceCookie = flows.ReasonInvalidDeviceCookie
	DenyNoUserID            = flows.ReasonNoUserID
	DenyDeviceMismatch      = flows.ReasonDeviceMismatch
)

// Capability is an extra named check a protected action may require on top of the identity
// gate. Allow runs only after the device cookie, user and device match checks have passed.
type Capability struct {
	Name  string
	Allow func(*session.Session) bool
}

func (c Capability) predicate() flows.Predicate {
	reason := "capability:" + c.Name
	return flows.Predicate{
		Name: c.Name,
		Check: func(in *flows.GateInput) string {
			if c.Allow == nil || !c.Allow(in.Session) {
				return reason
			}
			return ""
		},
	}
}

// Authorize runs the identity gate for one protected action. Checks run in order and stop at
// the first denial: device cookie present and verified, session authenticated, device id
// equal to the session user, then every capability.
//
// Every denial returns [ErrUnauthorized]; the reason is logged, counted and audited. Nothing
// is cached, so the session passed in must have been loaded for this request.
//
//	Performance: no I/O.
//	Security: the device/user comparison is constant time.
func (e *Engine) Authorize(ctx context.Context, sess *session.Session, deviceCookie string, caps ...Capability) error {
	if e == nil || e.codec == nil {
		return ErrEngineNotReady
	}

	var extra []flows.Predicate
	if len(caps) > 0 {
		extra = make([]flows.Predicate, 0, len(caps))
		for _, c := range caps {
			extra = append(extra, c.predicate())
		}
	}

	res := flows.RunAuthorize(sess, deviceCookie, e.flows.Authorize, extra...)
	if res.Allowed {
		e.metricInc(MetricAuthorizeAllowed)
		return nil
	}

	e.metricInc(MetricAuthorizeDenied)
	if res.Reason == flows.ReasonDeviceMismatch {
		e.metricInc(MetricDeviceMismatch)
	}

	var sessionID, userID string
	if sess != nil {
		sessionID, userID = sess.SessionID, sess.UserUUID
	}
	e.logger.Warn().
		Str("reason", res.Reason).
		Str("session", internal.Fingerprint(sessionID)).
		Str("ip", clientIPFromContext(ctx)).
		Msg("authorization denied")
	e.emitAudit(ctx, auditEventAuthorizeDenied, false, auditRecord{
		userID:    userID,
		sessionID: sessionID,
		reason:    res.Reason,
		err:       ErrUnauthorized,
	})

	return ErrUnauthorized
}
