package commands

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MrEthical07/sessiongate"
	"github.com/MrEthical07/sessiongate/realtime"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHandler(t *testing.T) (http.Handler, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	cmd := &ServeCmd{
		Secrets:    []string{strings.Repeat("s", 32)},
		SessionTTL: sessiongate.DefaultConfig().Session.TTL,
		Redis:      RedisFlags{Prefix: "sg"},
	}
	engine, err := sessiongate.New().WithConfig(cmd.config()).WithRedis(rdb).Build()
	require.NoError(t, err)

	t.Cleanup(func() {
		engine.Close()
		rdb.Close()
		mr.Close()
	})

	return newHandler(handlerDeps{
		engine:      engine,
		gateway:     realtime.NewGateway(engine, realtime.Options{}),
		logger:      zerolog.Nop(),
		corsOrigins: []string{"https://app.example"},
		devLogin:    true,
	}), mr
}

func do(h http.Handler, method, path string, cookies []*http.Cookie, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for _, c := range cookies {
		req.AddCookie(&http.Cookie{Name: c.Name, Value: c.Value})
	}
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthzAndSecurityHeaders(t *testing.T) {
	h, mr := newTestHandler(t)

	rec := do(h, http.MethodGet, "/healthz", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "SAMEORIGIN", rec.Header().Get("X-Frame-Options"))
	assert.Contains(t, rec.Header().Get("Strict-Transport-Security"), "includeSubDomains")

	mr.Close()
	rec = do(h, http.MethodGet, "/healthz", nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestDevLoginThenWhoami(t *testing.T) {
	h, _ := newTestHandler(t)

	rec := do(h, http.MethodGet, "/api/whoami", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	login := do(h, http.MethodPost, "/api/dev/login?user=alice", nil, nil)
	require.Equal(t, http.StatusOK, login.Code)
	cookies := login.Result().Cookies()
	require.Len(t, cookies, 2, "rotated session and device cookies only")

	rec = do(h, http.MethodGet, "/api/whoami", cookies, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body whoamiResponse
	require.NoError(t, json.NewDecoder(bytes.NewReader(rec.Body.Bytes())).Decode(&body))
	assert.Equal(t, "alice", body.UserUUID)
	assert.Empty(t, body.Connections)

	rec = do(h, http.MethodPost, "/api/logout", cookies, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(h, http.MethodGet, "/api/whoami", cookies, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestDevLoginRejectsEmptyUser(t *testing.T) {
	h, _ := newTestHandler(t)

	rec := do(h, http.MethodPost, "/api/dev/login", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCrossSiteLogoutBlocked(t *testing.T) {
	h, _ := newTestHandler(t)

	rec := do(h, http.MethodPost, "/api/logout", nil, http.Header{"Sec-Fetch-Site": {"cross-site"}})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	h, _ := newTestHandler(t)

	do(h, http.MethodGet, "/api/whoami", nil, nil)
	rec := do(h, http.MethodGet, "/metrics", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "sessiongate_session_created_total 1")
	assert.Contains(t, rec.Body.String(), "sessiongate_authorize_denied_total 1")
}
