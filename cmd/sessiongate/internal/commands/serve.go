package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrEthical07/sessiongate"
	"github.com/MrEthical07/sessiongate/cmd/sessiongate/internal/telemetry"
	"github.com/MrEthical07/sessiongate/realtime"
	"github.com/redis/go-redis/v9"
)

type ServeCmd struct {
	Listen string `help:"HTTP listen address" default:"0.0.0.0:8080" env:"SESSIONGATE_LISTEN"`
	Cert   string `help:"path to TLS cert file" default:"" env:"SESSIONGATE_TLS_CERT"`
	Key    string `help:"path to TLS key file" default:"" env:"SESSIONGATE_TLS_KEY"`

	Redis RedisFlags `embed:"" prefix:"redis-"`

	Secrets          []string      `help:"cookie signing secrets, newest first (at least 32 bytes each)" env:"SESSIONGATE_SECRETS" required:""`
	SessionTTL       time.Duration `help:"rolling session lifetime" default:"8h" env:"SESSIONGATE_SESSION_TTL"`
	AbsoluteLifetime time.Duration `help:"absolute session lifetime cap; 0 disables" default:"168h" env:"SESSIONGATE_ABSOLUTE_LIFETIME"`
	InsecureCookies  bool          `help:"issue cookies without the Secure flag (development only)" default:"false" env:"SESSIONGATE_INSECURE_COOKIES"`

	CORSOrigins    []string `help:"allowed CORS origins for API requests" default:"https://localhost" env:"SESSIONGATE_CORS_ORIGINS"`
	OriginPatterns []string `help:"allowed WebSocket origin patterns" env:"SESSIONGATE_WS_ORIGINS"`

	ExposeRejectReason bool `help:"send handshake rejection reasons to clients (development only)" default:"false" env:"SESSIONGATE_EXPOSE_REJECT_REASON"`
	DevLogin           bool `help:"enable POST /api/dev/login?user=<id> (development only)" default:"false" env:"SESSIONGATE_DEV_LOGIN"`
	AuditLog           bool `help:"write audit events to the log" default:"true" env:"SESSIONGATE_AUDIT_LOG" negatable:""`

	OTLPMetrics  bool          `help:"push metrics over OTLP/gRPC; endpoint from OTEL_EXPORTER_OTLP_ENDPOINT" default:"false" env:"SESSIONGATE_OTLP_METRICS"`
	OTLPInterval time.Duration `help:"OTLP metric export interval" default:"10s" env:"SESSIONGATE_OTLP_INTERVAL"`
}

type RedisFlags struct {
	Addrs    []string `help:"Redis addresses" default:"localhost:6379" env:"SESSIONGATE_REDIS_ADDRS"`
	Password string   `help:"Redis password" env:"SESSIONGATE_REDIS_PASSWORD"`
	DB       int      `help:"Redis database" default:"0" env:"SESSIONGATE_REDIS_DB"`
	Prefix   string   `help:"Redis key prefix" default:"sg" env:"SESSIONGATE_REDIS_PREFIX"`
	Channel  string   `help:"Redis pub/sub channel for cross-process delivery" default:"sg:relay" env:"SESSIONGATE_REDIS_CHANNEL"`
}

func (c *ServeCmd) config() sessiongate.Config {
	cfg := sessiongate.DefaultConfig()
	cfg.Cookie.Secure = !c.InsecureCookies
	cfg.Cookie.Secrets = make([][]byte, 0, len(c.Secrets))
	for _, s := range c.Secrets {
		cfg.Cookie.Secrets = append(cfg.Cookie.Secrets, []byte(s))
	}
	cfg.Session.RedisPrefix = c.Redis.Prefix
	cfg.Session.TTL = c.SessionTTL
	cfg.Session.AbsoluteLifetime = c.AbsoluteLifetime
	cfg.Handshake.ExposeRejectReason = c.ExposeRejectReason
	cfg.Audit.Enabled = c.AuditLog
	cfg.Metrics.Enabled = true
	cfg.Metrics.EnableLatencyHistograms = true
	return cfg
}

func (c *ServeCmd) Run(ctx context.Context, globals *Globals) error {
	log := setupLogger(globals.Debug)
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info().Str("version", globals.Version).Bool("debug", globals.Debug).Msg("Starting sessiongate")

	rdb := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    c.Redis.Addrs,
		Password: c.Redis.Password,
		DB:       c.Redis.DB,
	})
	defer rdb.Close()

	builder := sessiongate.New().
		WithConfig(c.config()).
		WithRedis(rdb).
		WithLogger(log)
	if c.AuditLog {
		builder = builder.WithAuditSink(sessiongate.NewLoggerSink(log))
	}
	engine, err := builder.Build()
	if err != nil {
		return fmt.Errorf("failed to build engine: %w", err)
	}
	defer engine.Close()

	if c.OTLPMetrics {
		shutdown, err := telemetry.InitMetrics(ctx, engine, globals.Version, c.OTLPInterval, log)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialize OTLP metrics, continuing without them")
		} else {
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := shutdown(shutdownCtx); err != nil {
					log.Error().Err(err).Msg("Failed to flush OTLP metrics")
				}
			}()
		}
	}

	if _, err := engine.Ping(ctx); err != nil {
		log.Warn().Err(err).Msg("Redis not reachable at startup; health checks will fail until it is")
	}

	gateway := realtime.NewGateway(engine, realtime.Options{
		OriginPatterns: c.OriginPatterns,
		Relay:          realtime.NewRedisRelay(rdb, c.Redis.Channel, log),
		Logger:         &log,
	})
	relayDone := make(chan error, 1)
	go func() { relayDone <- gateway.Run(ctx) }()

	handler := newHandler(handlerDeps{
		engine:      engine,
		gateway:     gateway,
		logger:      log,
		corsOrigins: c.CORSOrigins,
		devLogin:    c.DevLogin,
	})
	srv := configureHTTPServer(c.Listen, handler)

	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", c.Listen).Bool("tls", c.Cert != "").Msg("Listening")
		if c.Cert != "" && c.Key != "" {
			serveErr <- srv.ListenAndServeTLS(c.Cert, c.Key)
			return
		}
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}

	stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Failed to shut down cleanly")
	}
	if err := <-relayDone; err != nil {
		log.Error().Err(err).Msg("Relay stopped with error")
	}
	log.Info().Msg("Stopped")
	return nil
}
