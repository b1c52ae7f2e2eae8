package middleware

import (
	"errors"
	"net"
	"net/http"

	"github.com/MrEthical07/sessiongate"
)

const internalErrorBody = "internal server error"

// Session loads the session for every request. A request without a usable session cookie
// gets a new anonymous session; the session cookie is written on every response so the
// expiry rolls forward. A store failure answers 500 with a generic body and never reaches
// next.
func Session(engine *sessiongate.Engine) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				http.Error(w, internalErrorBody, http.StatusInternalServerError)
				return
			}

			var signed string
			if c, err := r.Cookie(engine.Config().Cookie.SessionName); err == nil {
				signed = c.Value
			}

			res, err := engine.LoadSession(r.Context(), signed)
			if err != nil {
				http.Error(w, internalErrorBody, http.StatusInternalServerError)
				return
			}
			if res.Cookie != nil {
				http.SetCookie(w, res.Cookie)
			}

			ctx := sessiongate.WithSession(r.Context(), res.Session)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ClientIP attaches the caller address chosen by resolve to the request context. A nil
// resolve uses the host part of RemoteAddr.
func ClientIP(resolve func(*http.Request) string) func(http.Handler) http.Handler {
	if resolve == nil {
		resolve = remoteHost
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := sessiongate.WithClientIP(r.Context(), resolve(r))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Establish is called by the host's login handler after it has authenticated userUUID. It
// rotates the session, sets both identity cookies on w and returns the new record.
func Establish(w http.ResponseWriter, r *http.Request, engine *sessiongate.Engine, userUUID string) (*sessiongate.EstablishResult, error) {
	if engine == nil {
		return nil, sessiongate.ErrEngineNotReady
	}

	var previous string
	if sess := sessiongate.SessionFromContext(r.Context()); sess != nil {
		previous = sess.SessionID
	}

	res, err := engine.Establish(r.Context(), previous, userUUID)
	if err != nil {
		return nil, err
	}
	replaceCookie(w, res.SessionCookie)
	replaceCookie(w, res.DeviceCookie)
	return res, nil
}

// Logout deletes the request's session and expires both cookies.
func Logout(w http.ResponseWriter, r *http.Request, engine *sessiongate.Engine) error {
	if engine == nil {
		return sessiongate.ErrEngineNotReady
	}

	sess := sessiongate.SessionFromContext(r.Context())
	if sess == nil {
		return errors.New("no session in request context")
	}
	if err := engine.Logout(r.Context(), sess.SessionID); err != nil {
		return err
	}
	for _, c := range engine.ClearCookies() {
		replaceCookie(w, c)
	}
	return nil
}

// replaceCookie sets c and drops any Set-Cookie already queued on w under the same name, so
// a response never carries two values for one cookie.
func replaceCookie(w http.ResponseWriter, c *http.Cookie) {
	h := w.Header()
	if prev := h.Values("Set-Cookie"); len(prev) > 0 {
		kept := make([]string, 0, len(prev))
		for _, v := range prev {
			if parsed, err := http.ParseSetCookie(v); err == nil && parsed.Name == c.Name {
				continue
			}
			kept = append(kept, v)
		}
		h.Del("Set-Cookie")
		for _, v := range kept {
			h.Add("Set-Cookie", v)
		}
	}
	http.SetCookie(w, c)
}
