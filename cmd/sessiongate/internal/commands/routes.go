package commands

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"filippo.io/csrf"
	"github.com/MrEthical07/sessiongate"
	"github.com/MrEthical07/sessiongate/metrics/export/prometheus"
	"github.com/MrEthical07/sessiongate/middleware"
	"github.com/MrEthical07/sessiongate/realtime"
	"github.com/klauspost/compress/gzhttp"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
)

type handlerDeps struct {
	engine      *sessiongate.Engine
	gateway     *realtime.Gateway
	logger      zerolog.Logger
	corsOrigins []string
	devLogin    bool
}

func newHandler(deps handlerDeps) http.Handler {
	engine := deps.engine
	session := middleware.Session(engine)

	api := http.NewServeMux()
	api.Handle("GET /api/whoami", session(middleware.Require(engine)(whoami())))
	api.Handle("POST /api/logout", session(logout(engine)))
	if deps.devLogin {
		api.Handle("POST /api/dev/login", session(devLogin(engine)))
	}

	mux := http.NewServeMux()
	mux.Handle("GET /healthz", healthz(engine))
	mux.Handle("GET /metrics", prometheus.NewExporter(engine).Handler())
	mux.Handle("GET /ws", deps.gateway)
	mux.Handle("/api/", withCORS(deps.corsOrigins, csrf.New().Handler(gzhttp.GzipHandler(api))))

	var h http.Handler = mux
	h = securityHeaders(h)
	h = middleware.ClientIP(nil)(h)
	h = requestLog(deps.logger)(h)
	return h
}

// securityHeaders sets the browser hardening headers on every response.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Frame-Options", "SAMEORIGIN")
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Download-Options", "noopen")
		h.Set("Strict-Transport-Security", "max-age=10886400; includeSubDomains; preload")
		next.ServeHTTP(w, r)
	})
}

func requestLog(logger zerolog.Logger) func(http.Handler) http.Handler {
	access := hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		if r.URL.Path == "/healthz" || r.URL.Path == "/metrics" {
			return
		}
		hlog.FromRequest(r).Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("request")
	})
	return func(next http.Handler) http.Handler {
		return hlog.NewHandler(logger)(hlog.RemoteAddrHandler("remote_addr")(access(next)))
	}
}

// withCORS allows credentialed cross-origin API calls from the configured origins.
func withCORS(allowedOrigins []string, h http.Handler) http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost},
		AllowedHeaders:   []string{"Content-Type"},
		AllowCredentials: true, // cookies carry the session
	})
	return c.Handler(h)
}

func healthz(engine *sessiongate.Engine) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		latency, err := engine.Ping(r.Context())
		if err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{
			"status":        "ok",
			"redis_latency": latency.String(),
		})
	})
}

type whoamiResponse struct {
	UserUUID    string   `json:"user_uuid"`
	Connections []string `json:"connections"`
	ExpiresAt   int64    `json:"expires_at"`
}

func whoami() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess := sessiongate.SessionFromContext(r.Context())
		conns := sess.ConnectionIDs
		if conns == nil {
			conns = []string{}
		}
		writeJSON(w, http.StatusOK, whoamiResponse{
			UserUUID:    sess.UserUUID,
			Connections: conns,
			ExpiresAt:   sess.ExpiresAt,
		})
	})
}

func logout(engine *sessiongate.Engine) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := middleware.Logout(w, r, engine); err != nil {
			hlog.FromRequest(r).Error().Err(err).Msg("logout failed")
			http.Error(w, "internal server error", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
}

// devLogin trusts the user query parameter. It exists for local testing of the gateway.
func devLogin(engine *sessiongate.Engine) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := strings.TrimSpace(r.URL.Query().Get("user"))
		res, err := middleware.Establish(w, r, engine, user)
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, sessiongate.ErrInvalidUser) {
				status = http.StatusBadRequest
			}
			http.Error(w, http.StatusText(status), status)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"user_uuid": res.Session.UserUUID})
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
