package sessiongate

import (
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/MrEthical07/sessiongate/cookie"
	"github.com/MrEthical07/sessiongate/internal/flows"
	"github.com/MrEthical07/sessiongate/session"
)

// Builder assembles an [Engine]. A Builder can be built once.
type Builder struct {
	config Config
	redis  redis.UniversalClient
	store  SessionStore

	auditSink AuditSink
	logger    *zerolog.Logger

	built bool
}

// New returns a Builder seeded with the default configuration.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the whole configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithSecrets sets the cookie signing secrets. The first one signs.
func (b *Builder) WithSecrets(secrets ...[]byte) *Builder {
	b.config.Cookie.Secrets = nil
	for _, s := range secrets {
		b.config.Cookie.Secrets = append(b.config.Cookie.Secrets, cloneBytes(s))
	}
	return b
}

// WithRedis sets the client backing the default [session.Store]. Standalone, cluster and
// failover clients are all accepted.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithSessionStore injects a custom store and takes precedence over WithRedis.
func (b *Builder) WithSessionStore(store SessionStore) *Builder {
	b.store = store
	return b
}

// WithAuditSink sets the sink used when Audit.Enabled is true.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithLogger sets the engine logger. The default discards everything.
func (b *Builder) WithLogger(logger zerolog.Logger) *Builder {
	b.logger = &logger
	return b
}

// WithMetricsEnabled toggles the in-process counters.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithLatencyHistograms toggles the latency histograms.
func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and returns a ready Engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	codec, err := cookie.NewCodec(cfg.Cookie.Secrets...)
	if err != nil {
		return nil, err
	}
	sessionCodec, deviceCodec := codec.ForPurpose("session"), codec.ForPurpose("device")

	logger := zerolog.Nop()
	if b.logger != nil {
		logger = *b.logger
	}

	engine := &Engine{
		config:      cfg,
		codec:       sessionCodec,
		deviceCodec: deviceCodec,
		logger:      logger.With().Str("component", "sessiongate").Logger(),
		now:         time.Now,
	}

	// -------- SESSION STORE --------
	engine.store = b.store
	if engine.store == nil {
		if b.redis == nil {
			return nil, errors.New("redis client or session store is required")
		}
		engine.store = session.NewStore(b.redis, cfg.Session.RedisPrefix,
			session.WithClock(func() time.Time { return engine.now() }))
	}

	engine.flows = flows.Deps{
		Authorize: flows.AuthorizeDeps{
			VerifyDevice: deviceCodec.Verify,
			Equal:        flows.ConstantTimeEqual,
		},
		Handshake: flows.HandshakeDeps{
			SessionCookieName:  cfg.Cookie.SessionName,
			DeviceCookieName:   cfg.Cookie.DeviceName,
			VerifySession:      sessionCodec.Verify,
			VerifyDevice:       deviceCodec.Verify,
			Load:               engine.loadForHandshake,
			RequireDeviceMatch: cfg.Handshake.RequireDeviceMatch,
			Equal:              flows.ConstantTimeEqual,
		},
	}
	engine.audit = newAuditDispatcher(cfg.Audit, b.auditSink)
	engine.metrics = NewMetrics(cfg.Metrics)

	b.built = true

	return engine, nil
}
