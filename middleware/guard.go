package middleware

import (
	"errors"
	"net/http"

	"github.com/MrEthical07/sessiongate"
)

// Require guards a protected route. It must run after [Session]. Every denial answers 401
// with the same body; the reason is only logged by the Engine.
func Require(engine *sessiongate.Engine, caps ...sessiongate.Capability) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				http.Error(w, internalErrorBody, http.StatusInternalServerError)
				return
			}

			var device string
			if c, err := r.Cookie(engine.Config().Cookie.DeviceName); err == nil {
				device = c.Value
			}

			err := engine.Authorize(r.Context(), sessiongate.SessionFromContext(r.Context()), device, caps...)
			if err != nil {
				if errors.Is(err, sessiongate.ErrEngineNotReady) {
					http.Error(w, internalErrorBody, http.StatusInternalServerError)
					return
				}
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
