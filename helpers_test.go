package sessiongate

import (
	"bytes"
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

var (
	testSecret      = bytes.Repeat([]byte("k"), 32)
	otherTestSecret = bytes.Repeat([]byte("z"), 32)
)

func newTestRedis(t testing.TB) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return mr, rdb
}

func testConfig() Config {
	cfg := defaultConfig()
	cfg.Cookie.Secrets = [][]byte{testSecret}
	cfg.Metrics.Enabled = true
	return cfg
}

type testEngine struct {
	*Engine
	rdb *redis.Client
	mr  *miniredis.Miniredis
}

func (te *testEngine) sessionKey(sessionID string) string {
	return te.config.Session.RedisPrefix + ":" + sessionID
}

func newTestEngine(t testing.TB, mutate func(*Config), sink AuditSink) *testEngine {
	t.Helper()

	mr, rdb := newTestRedis(t)
	cfg := testConfig()
	if mutate != nil {
		mutate(&cfg)
	}

	engine, err := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithAuditSink(sink).
		Build()
	if err != nil {
		rdb.Close()
		mr.Close()
		t.Fatalf("Build failed: %v", err)
	}

	t.Cleanup(func() {
		engine.Close()
		rdb.Close()
		mr.Close()
	})
	return &testEngine{Engine: engine, rdb: rdb, mr: mr}
}

// authenticatedSession creates an anonymous session through LoadSession and then marks it as
// userUUID directly in Redis, the way a login handled by another process would.
func (te *testEngine) authenticatedSession(t *testing.T, userUUID string) (sessionCookie, deviceCookie string, sessionID string) {
	t.Helper()
	ctx := context.Background()

	res, err := te.LoadSession(ctx, "")
	if err != nil {
		t.Fatalf("LoadSession: %v", err)
	}
	sessionID = res.Session.SessionID
	if err := te.rdb.HSet(ctx, te.sessionKey(sessionID), "uid", userUUID).Err(); err != nil {
		t.Fatalf("set uid: %v", err)
	}

	device, err := te.NewDeviceCookie(userUUID)
	if err != nil {
		t.Fatalf("NewDeviceCookie: %v", err)
	}
	return res.Cookie.Value, device.Value, sessionID
}

func cookieHeader(pairs ...string) string {
	var b bytes.Buffer
	for i := 0; i+1 < len(pairs); i += 2 {
		if b.Len() > 0 {
			b.WriteString("; ")
		}
		b.WriteString(pairs[i])
		b.WriteByte('=')
		b.WriteString(pairs[i+1])
	}
	return b.String()
}
