package sessiongate

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/MrEthical07/sessiongate/internal"
	"github.com/MrEthical07/sessiongate/session"
)

const maxUserUUIDLength = 255

// EstablishResult carries the authenticated record and both cookies to set on the response.
type EstablishResult struct {
	Session       *session.Session
	SessionCookie *http.Cookie
	DeviceCookie  *http.Cookie
}

// Establish marks the caller as userUUID once the host's own login handler has authenticated
// them. It writes a fresh record under a new session id, then deletes the previous one, so a
// session id observed before login is worthless afterwards. The device cookie carries the
// user id that later requests and handshakes must match.
//
// previousSessionID may be empty.
//
//	Performance: 1 MULTI block + 1 EVALSHA.
func (e *Engine) Establish(ctx context.Context, previousSessionID, userUUID string) (*EstablishResult, error) {
	if e == nil || e.store == nil || e.codec == nil {
		return nil, ErrEngineNotReady
	}
	if err := validateUserUUID(userUUID); err != nil {
		return nil, err
	}

	sess, err := e.newSessionRecord(userUUID)
	if err != nil {
		return nil, err
	}

	storeCtx, cancel := e.storeContext(ctx)
	defer cancel()

	ttl := e.config.Session.TTL
	if err := e.store.Create(storeCtx, sess, ttl); err != nil {
		return nil, e.storeFailure(ctx, "create", sess.SessionID, fmt.Errorf("%w: %w", ErrSessionCreationFailed, err))
	}

	if previousSessionID != "" && previousSessionID != sess.SessionID {
		if _, err := e.store.Delete(storeCtx, previousSessionID); err != nil {
			// The new record is already valid; the old one still expires on its own.
			e.logger.Warn().
				Err(err).
				Str("session", internal.Fingerprint(previousSessionID)).
				Msg("previous session not deleted after establish")
		}
	}

	signed, err := e.codec.Sign(sess.SessionID)
	if err != nil {
		return nil, err
	}
	device, err := e.NewDeviceCookie(userUUID)
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricSessionEstablished)
	e.emitAudit(ctx, auditEventSessionEstablished, true, auditRecord{
		userID:    userUUID,
		sessionID: sess.SessionID,
		metadata: func() map[string]string {
			return map[string]string{"rotated": strconv.FormatBool(previousSessionID != "")}
		},
	})

	return &EstablishResult{
		Session:       sess,
		SessionCookie: e.sessionCookie(signed, sess.ExpiresAt, e.now()),
		DeviceCookie:  device,
	}, nil
}

// Logout deletes one session record. Open connections bound to it keep running until they
// close, but can no longer be targeted or re-established. Deleting a missing session is not
// an error.
func (e *Engine) Logout(ctx context.Context, sessionID string) error {
	if e == nil || e.store == nil {
		return ErrEngineNotReady
	}

	storeCtx, cancel := e.storeContext(ctx)
	defer cancel()

	existed, err := e.store.Delete(storeCtx, sessionID)
	if err != nil {
		return e.storeFailure(ctx, "delete", sessionID, err)
	}

	e.metricInc(MetricLogout)
	e.emitAudit(ctx, auditEventLogoutSession, true, auditRecord{
		sessionID: sessionID,
		metadata: func() map[string]string {
			return map[string]string{"existed": strconv.FormatBool(existed)}
		},
	})
	return nil
}

// InvalidateUser deletes every session of userUUID, for admin-forced logout. It returns how
// many records existed.
func (e *Engine) InvalidateUser(ctx context.Context, userUUID string) (int, error) {
	if e == nil || e.store == nil {
		return 0, ErrEngineNotReady
	}
	if err := validateUserUUID(userUUID); err != nil {
		return 0, err
	}

	storeCtx, cancel := e.storeContext(ctx)
	defer cancel()

	n, err := e.store.DeleteAllForUser(storeCtx, userUUID)
	if err != nil {
		return 0, e.storeFailure(ctx, "delete_all", "", err)
	}

	e.metricInc(MetricLogoutAll)
	e.emitAudit(ctx, auditEventLogoutAll, true, auditRecord{
		userID: userUUID,
		metadata: func() map[string]string {
			return map[string]string{"sessions": strconv.Itoa(n)}
		},
	})
	return n, nil
}

func validateUserUUID(userUUID string) error {
	if userUUID == "" || len(userUUID) > maxUserUUIDLength {
		return ErrInvalidUser
	}
	for i := 0; i < len(userUUID); i++ {
		if c := userUUID[i]; c < 0x21 || c > 0x7e {
			return ErrInvalidUser
		}
	}
	return nil
}
