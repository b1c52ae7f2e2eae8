package sessiongate

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/MrEthical07/sessiongate/internal"
	"github.com/MrEthical07/sessiongate/session"
)

// SessionResult is the outcome of [Engine.LoadSession].
type SessionResult struct {
	Session *session.Session

	// Issued is true when a new anonymous record was created for this request.
	Issued bool

	// Cookie is the session cookie to send back. It is set on every successful call because
	// the expiry rolls forward with each request.
	Cookie *http.Cookie
}

// LoadSession resolves the session for one HTTP request from its signed session cookie.
//
// A missing cookie, a cookie that fails verification, or a cookie whose record is gone all
// lead to a new anonymous record. A known record has its rolling expiry refreshed. Any store
// failure returns [ErrStoreUnavailable]; the caller must answer with a generic internal error
// and must not continue as anonymous.
//
//	Performance: 1 HGETALL + 1 EVALSHA for a known session; 1 MULTI block for a new one.
func (e *Engine) LoadSession(ctx context.Context, signedCookie string) (*SessionResult, error) {
	if e == nil || e.store == nil || e.codec == nil {
		return nil, ErrEngineNotReady
	}
	start := time.Now()
	defer e.metricObserve(MetricLoadLatency, start)

	sessionID := e.verifySessionCookie(ctx, signedCookie)
	if sessionID != "" {
		res, err := e.refreshSession(ctx, sessionID)
		if err != nil || res != nil {
			return res, err
		}
	}

	return e.createAnonymousSession(ctx)
}

func (e *Engine) verifySessionCookie(ctx context.Context, signedCookie string) string {
	if signedCookie == "" {
		return ""
	}

	sessionID, err := e.codec.Verify(signedCookie)
	if err != nil {
		e.metricInc(MetricSessionCookieInvalid)
		e.logger.Warn().
			Str("reason", "session_signature_invalid").
			Str("ip", clientIPFromContext(ctx)).
			Msg("session cookie rejected")
		e.emitAudit(ctx, auditEventSessionCookieInvalid, false, auditRecord{reason: "session_signature_invalid"})
		return ""
	}
	return sessionID
}

// refreshSession returns (nil, nil) when the caller should fall through to a new session.
func (e *Engine) refreshSession(ctx context.Context, sessionID string) (*SessionResult, error) {
	storeCtx, cancel := e.storeContext(ctx)
	defer cancel()

	lookup := e.store.Load(storeCtx, sessionID)
	switch lookup.Outcome {
	case session.OutcomeFound:
	case session.OutcomeNotFound:
		e.metricInc(MetricSessionNotFound)
		e.logger.Debug().Str("session", internal.Fingerprint(sessionID)).Msg("session record not found")
		return nil, nil
	default:
		return nil, e.storeFailure(ctx, "load", sessionID, lookup.Err)
	}

	sess := lookup.Session
	now := e.now()
	expiresAt, ttl, ok := e.nextExpiry(sess.CreatedAt, now)
	if !ok {
		e.metricInc(MetricSessionLifetimeExceeded)
		e.emitAudit(ctx, auditEventSessionLifetimeCapped, false, auditRecord{
			userID:    sess.UserUUID,
			sessionID: sessionID,
			reason:    "absolute_lifetime",
		})
		if _, err := e.store.Delete(storeCtx, sessionID); err != nil {
			return nil, e.storeFailure(ctx, "delete", sessionID, err)
		}
		return nil, nil
	}

	touched, err := e.store.Touch(storeCtx, sessionID, expiresAt, ttl)
	if err != nil {
		return nil, e.storeFailure(ctx, "touch", sessionID, err)
	}
	if !touched {
		// Deleted between load and refresh, e.g. a forced logout.
		e.metricInc(MetricSessionNotFound)
		return nil, nil
	}
	e.metricInc(MetricSessionRefreshed)

	sess.ExpiresAt = expiresAt
	signed, err := e.codec.Sign(sessionID)
	if err != nil {
		return nil, err
	}

	return &SessionResult{
		Session: sess,
		Cookie:  e.sessionCookie(signed, expiresAt, now),
	}, nil
}

func (e *Engine) createAnonymousSession(ctx context.Context) (*SessionResult, error) {
	sess, err := e.newSessionRecord("")
	if err != nil {
		return nil, err
	}

	storeCtx, cancel := e.storeContext(ctx)
	defer cancel()

	ttl := time.Duration(sess.ExpiresAt-sess.CreatedAt) * time.Second
	if err := e.store.Create(storeCtx, sess, ttl); err != nil {
		return nil, e.storeFailure(ctx, "create", sess.SessionID, fmt.Errorf("%w: %w", ErrSessionCreationFailed, err))
	}

	signed, err := e.codec.Sign(sess.SessionID)
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricSessionCreated)
	e.emitAudit(ctx, auditEventSessionCreated, true, auditRecord{sessionID: sess.SessionID})

	return &SessionResult{
		Session: sess,
		Issued:  true,
		Cookie:  e.sessionCookie(signed, sess.ExpiresAt, time.Unix(sess.CreatedAt, 0)),
	}, nil
}

func (e *Engine) newSessionRecord(userUUID string) (*session.Session, error) {
	sid, err := internal.NewSessionID()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSessionCreationFailed, err)
	}

	now := e.now()
	expiresAt, _, _ := e.nextExpiry(now.Unix(), now)

	return &session.Session{
		SchemaVersion: session.CurrentSchemaVersion,
		SessionID:     sid.String(),
		UserUUID:      userUUID,
		CreatedAt:     now.Unix(),
		ExpiresAt:     expiresAt,
	}, nil
}

// nextExpiry returns the rolling expiry for a record created at createdAt, capped by the
// absolute lifetime. ok is false once the cap has been reached.
func (e *Engine) nextExpiry(createdAt int64, now time.Time) (expiresAt int64, ttl time.Duration, ok bool) {
	expiresAt = now.Add(e.config.Session.TTL).Unix()

	if limit := e.config.Session.AbsoluteLifetime; limit > 0 {
		hardStop := time.Unix(createdAt, 0).Add(limit).Unix()
		if hardStop <= now.Unix() {
			return 0, 0, false
		}
		if hardStop < expiresAt {
			expiresAt = hardStop
		}
	}

	ttl = time.Duration(expiresAt-now.Unix()) * time.Second
	if ttl <= 0 {
		return 0, 0, false
	}
	return expiresAt, ttl, true
}

func (e *Engine) storeFailure(ctx context.Context, op, sessionID string, err error) error {
	e.metricInc(MetricStoreUnavailable)
	e.logger.Error().
		Err(err).
		Str("op", op).
		Str("session", internal.Fingerprint(sessionID)).
		Str("ip", clientIPFromContext(ctx)).
		Msg("session store failure")
	return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
}

/*
====================================
COOKIES
====================================
*/

func (e *Engine) sessionCookie(signed string, expiresAt int64, now time.Time) *http.Cookie {
	cfg := e.config.Cookie
	maxAge := int(expiresAt - now.Unix())
	if maxAge <= 0 {
		maxAge = -1
	}

	return &http.Cookie{
		Name:     cfg.SessionName,
		Value:    signed,
		Path:     "/",
		Domain:   cfg.Domain,
		Expires:  time.Unix(expiresAt, 0).UTC(),
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   cfg.Secure,
		SameSite: cfg.SameSite,
	}
}

// NewDeviceCookie returns the signed device cookie for userUUID.
func (e *Engine) NewDeviceCookie(userUUID string) (*http.Cookie, error) {
	if e == nil || e.codec == nil {
		return nil, ErrEngineNotReady
	}
	if err := validateUserUUID(userUUID); err != nil {
		return nil, err
	}

	signed, err := e.deviceCodec.Sign(userUUID)
	if err != nil {
		return nil, err
	}

	cfg := e.config.Cookie
	c := &http.Cookie{
		Name:     cfg.DeviceName,
		Value:    signed,
		Path:     cfg.Path,
		Domain:   cfg.Domain,
		HttpOnly: true,
		Secure:   cfg.Secure,
		SameSite: cfg.SameSite,
	}
	if cfg.DeviceMaxAge > 0 {
		c.MaxAge = int(cfg.DeviceMaxAge / time.Second)
		c.Expires = e.now().Add(cfg.DeviceMaxAge).UTC()
	}
	return c, nil
}

// ClearCookies returns expired copies of both identity cookies, for logout responses.
func (e *Engine) ClearCookies() []*http.Cookie {
	if e == nil {
		return nil
	}

	cfg := e.config.Cookie
	expired := func(name, path string) *http.Cookie {
		return &http.Cookie{
			Name:     name,
			Value:    "",
			Path:     path,
			Domain:   cfg.Domain,
			Expires:  time.Unix(0, 0).UTC(),
			MaxAge:   -1,
			HttpOnly: true,
			Secure:   cfg.Secure,
			SameSite: cfg.SameSite,
		}
	}
	return []*http.Cookie{expired(cfg.SessionName, "/"), expired(cfg.DeviceName, cfg.Path)}
}
