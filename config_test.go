package sessiongate

import (
	"bytes"
	"net/http"
	"strings"
	"testing"
	"time"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantValid bool
	}{
		{
			name:      "defaults with secret",
			mutate:    func(*Config) {},
			wantValid: true,
		},
		{
			name: "no secrets",
			mutate: func(c *Config) {
				c.Cookie.Secrets = nil
			},
			wantValid: false,
		},
		{
			name: "short secret",
			mutate: func(c *Config) {
				c.Cookie.Secrets = [][]byte{[]byte("short")}
			},
			wantValid: false,
		},
		{
			name: "rotated secrets",
			mutate: func(c *Config) {
				c.Cookie.Secrets = [][]byte{otherTestSecret, testSecret}
			},
			wantValid: true,
		},
		{
			name: "same cookie names",
			mutate: func(c *Config) {
				c.Cookie.DeviceName = c.Cookie.SessionName
			},
			wantValid: false,
		},
		{
			name: "invalid cookie name",
			mutate: func(c *Config) {
				c.Cookie.SessionName = "bad name;"
			},
			wantValid: false,
		},
		{
			name: "relative cookie path",
			mutate: func(c *Config) {
				c.Cookie.Path = "app"
			},
			wantValid: false,
		},
		{
			name: "samesite none without secure",
			mutate: func(c *Config) {
				c.Cookie.SameSite = http.SameSiteNoneMode
				c.Cookie.Secure = false
			},
			wantValid: false,
		},
		{
			name: "samesite none with secure",
			mutate: func(c *Config) {
				c.Cookie.SameSite = http.SameSiteNoneMode
				c.Cookie.Secure = true
			},
			wantValid: true,
		},
		{
			name: "ttl too small",
			mutate: func(c *Config) {
				c.Session.TTL = 10 * time.Millisecond
			},
			wantValid: false,
		},
		{
			name: "absolute lifetime below ttl",
			mutate: func(c *Config) {
				c.Session.AbsoluteLifetime = time.Hour
			},
			wantValid: false,
		},
		{
			name: "absolute lifetime disabled",
			mutate: func(c *Config) {
				c.Session.AbsoluteLifetime = 0
			},
			wantValid: true,
		},
		{
			name: "no store timeout",
			mutate: func(c *Config) {
				c.Session.StoreTimeout = 0
			},
			wantValid: false,
		},
		{
			name: "empty redis prefix",
			mutate: func(c *Config) {
				c.Session.RedisPrefix = ""
			},
			wantValid: false,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.wantValid && err != nil {
				t.Fatalf("expected valid config, got %v", err)
			}
			if !tc.wantValid && err == nil {
				t.Fatal("expected invalid config, got nil")
			}
		})
	}
}

func TestConfigValidateMessagesNameTheField(t *testing.T) {
	cfg := testConfig()
	cfg.Cookie.Secrets = [][]byte{[]byte("short")}

	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "Cookie.Secrets[0]") {
		t.Fatalf("expected message naming Cookie.Secrets[0], got %v", err)
	}
}

func TestBuilderRejectsMissingStoreAndReuse(t *testing.T) {
	if _, err := New().WithSecrets(testSecret).Build(); err == nil {
		t.Fatal("expected error without redis or store")
	}

	mr, rdb := newTestRedis(t)
	defer mr.Close()
	defer rdb.Close()

	b := New().WithSecrets(testSecret).WithRedis(rdb)
	engine, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	defer engine.Close()

	if _, err := b.Build(); err == nil {
		t.Fatal("expected builder reuse to fail")
	}
}

func TestConfigCopiesSecrets(t *testing.T) {
	secret := bytes.Repeat([]byte("a"), 32)
	cfg := testConfig()
	cfg.Cookie.Secrets = [][]byte{secret}

	cloned := cloneConfig(cfg)
	secret[0] = 'b'
	if cloned.Cookie.Secrets[0][0] != 'a' {
		t.Fatal("cloneConfig must deep-copy secrets")
	}
}
