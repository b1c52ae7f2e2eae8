package flows

import (
	"context"
	"net/http"

	"github.com/MrEthical07/sessiongate/session"
)

// Rejection reasons produced by the handshake.
const (
	ReasonMissingCookieHeaders    = "missing_cookie_headers"
	ReasonSessionSignatureInvalid = "session_signature_invalid"
	ReasonDeviceSignatureInvalid  = "device_signature_invalid"
	ReasonSessionNotFound         = "session_not_found"
	ReasonInternalError           = "internal_error"
)

// HandshakeState is the terminal state of one handshake attempt.
type HandshakeState uint8

const (
	HandshakePending HandshakeState = iota
	HandshakeAuthenticated
	HandshakeRejected
)

func (s HandshakeState) String() string {
	switch s {
	case HandshakePending:
		return "pending"
	case HandshakeAuthenticated:
		return "authenticated"
	case HandshakeRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// HandshakeDeps captures handshake dependencies.
type HandshakeDeps struct {
	SessionCookieName  string
	DeviceCookieName   string
	VerifySession      func(string) (string, error)
	VerifyDevice       func(string) (string, error)
	Load               func(ctx context.Context, sessionID string) session.Lookup
	RequireDeviceMatch bool
	Equal              func(a, b string) bool
}

// HandshakeResult returns either the authenticated session or a rejection reason. Err is set
// only for internal_error.
type HandshakeResult struct {
	State     HandshakeState
	Reason    string
	SessionID string
	DeviceID  string
	Session   *session.Session
	Err       error
}

func rejectHandshake(reason string) HandshakeResult {
	return HandshakeResult{State: HandshakeRejected, Reason: reason}
}

// RunHandshake authenticates a persistent connection from the Cookie header captured at
// handshake time. The result is terminal; there is no retry within a handshake.
func RunHandshake(ctx context.Context, cookieHeader string, deps HandshakeDeps) HandshakeResult {
	if cookieHeader == "" {
		return rejectHandshake(ReasonMissingCookieHeaders)
	}

	signedSession, signedDevice, ok := readCookiePair(cookieHeader, deps.SessionCookieName, deps.DeviceCookieName)
	if !ok {
		return rejectHandshake(ReasonMissingCookieHeaders)
	}

	sessionID, err := deps.VerifySession(signedSession)
	if err != nil || sessionID == "" {
		return rejectHandshake(ReasonSessionSignatureInvalid)
	}
	if signedDevice == "" {
		return rejectHandshake(ReasonDeviceSignatureInvalid)
	}
	deviceID, err := deps.VerifyDevice(signedDevice)
	if err != nil || deviceID == "" {
		return rejectHandshake(ReasonDeviceSignatureInvalid)
	}

	lookup := deps.Load(ctx, sessionID)
	switch lookup.Outcome {
	case session.OutcomeFound:
	case session.OutcomeNotFound:
		res := rejectHandshake(ReasonSessionNotFound)
		res.SessionID = sessionID
		return res
	default:
		res := rejectHandshake(ReasonInternalError)
		res.SessionID = sessionID
		res.Err = lookup.Err
		return res
	}

	res := HandshakeResult{SessionID: sessionID, DeviceID: deviceID, Session: lookup.Session}
	if !lookup.Session.Authenticated() {
		res.State, res.Reason = HandshakeRejected, ReasonNoUserID
		return res
	}
	if deps.RequireDeviceMatch {
		equal := deps.Equal
		if equal == nil {
			equal = ConstantTimeEqual
		}
		if !equal(deviceID, lookup.Session.UserUUID) {
			res.State, res.Reason = HandshakeRejected, ReasonDeviceMismatch
			return res
		}
	}

	res.State = HandshakeAuthenticated
	return res
}

// readCookiePair extracts the two named cookies from a raw Cookie header. Malformed pairs are
// skipped the same way net/http skips them for ordinary requests.
func readCookiePair(header, sessionName, deviceName string) (signedSession, signedDevice string, ok bool) {
	req := http.Request{Header: http.Header{"Cookie": []string{header}}}
	for _, c := range req.Cookies() {
		switch c.Name {
		case sessionName:
			if !ok {
				signedSession, ok = c.Value, c.Value != ""
			}
		case deviceName:
			if signedDevice == "" {
				signedDevice = c.Value
			}
		}
	}
	return signedSession, signedDevice, ok
}
