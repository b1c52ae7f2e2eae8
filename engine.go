package sessiongate

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/MrEthical07/sessiongate/cookie"
	"github.com/MrEthical07/sessiongate/internal/flows"
	"github.com/MrEthical07/sessiongate/session"
)

// SessionStore is the persistence contract the Engine depends on. [session.Store] is the
// Redis implementation; every mutation must be field-level or scripted so concurrent
// refreshes and binds never overwrite each other.
type SessionStore interface {
	Create(ctx context.Context, sess *session.Session, ttl time.Duration) error
	Load(ctx context.Context, sessionID string) session.Lookup
	Touch(ctx context.Context, sessionID string, expiresAt int64, ttl time.Duration) (bool, error)
	BindConnection(ctx context.Context, sessionID, connectionID string, boundAt time.Time) (session.BindStatus, error)
	UnbindConnection(ctx context.Context, sessionID, connectionID string) error
	Delete(ctx context.Context, sessionID string) (bool, error)
	DeleteAllForUser(ctx context.Context, userUUID string) (int, error)
	Ping(ctx context.Context) (time.Duration, error)
}

// Engine is the session gateway. Build it once with [Builder] and share it.
type Engine struct {
	config      Config
	codec       *cookie.Codec // session cookies
	deviceCodec *cookie.Codec
	store       SessionStore
	flows       flows.Deps
	audit       *auditDispatcher
	metrics     *Metrics
	logger      zerolog.Logger
	now         func() time.Time
}

// Close flushes and stops the audit dispatcher. The session store is owned by the caller
// and stays open.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// Config returns a copy of the active configuration.
func (e *Engine) Config() Config {
	if e == nil {
		return Config{}
	}
	return cloneConfig(e.config)
}

// AuditDropped returns how many audit events were dropped under backpressure.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot returns a point-in-time copy of the engine counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

// Ping checks store reachability within the configured store timeout.
func (e *Engine) Ping(ctx context.Context) (time.Duration, error) {
	if e == nil || e.store == nil {
		return 0, ErrEngineNotReady
	}

	ctx, cancel := e.storeContext(ctx)
	defer cancel()

	latency, err := e.store.Ping(ctx)
	if err != nil {
		return latency, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	return latency, nil
}

// GetSession reads a record without refreshing it.
func (e *Engine) GetSession(ctx context.Context, sessionID string) (*session.Session, error) {
	if e == nil || e.store == nil {
		return nil, ErrEngineNotReady
	}

	ctx, cancel := e.storeContext(ctx)
	defer cancel()

	lookup := e.store.Load(ctx, sessionID)
	switch lookup.Outcome {
	case session.OutcomeFound:
		return lookup.Session, nil
	case session.OutcomeNotFound:
		return nil, ErrSessionNotFound
	default:
		e.metricInc(MetricStoreUnavailable)
		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, lookup.Err)
	}
}

func (e *Engine) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, e.config.Session.StoreTimeout)
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) metricObserve(id MetricID, start time.Time) {
	if e == nil || !e.metrics.LatencyEnabled() {
		return
	}
	e.metrics.Observe(id, time.Since(start))
}
