package sessiongate

import (
	"sync/atomic"
	"time"
)

// MetricID identifies one engine counter or latency histogram.
type MetricID uint16

const (
	// MetricSessionCreated counts anonymous sessions created by LoadSession.
	MetricSessionCreated MetricID = iota
	// MetricSessionRefreshed counts rolling expiry refreshes.
	MetricSessionRefreshed
	// MetricSessionCookieInvalid counts session cookies that failed verification.
	MetricSessionCookieInvalid
	// MetricSessionNotFound counts verified session cookies whose record was absent or expired.
	MetricSessionNotFound
	// MetricSessionLifetimeExceeded counts records dropped by the absolute lifetime cap.
	MetricSessionLifetimeExceeded
	// MetricStoreUnavailable counts operations failed by a store error.
	MetricStoreUnavailable
	// MetricAuthorizeAllowed counts gate runs that allowed.
	MetricAuthorizeAllowed
	// MetricAuthorizeDenied counts gate runs that denied, for any reason.
	MetricAuthorizeDenied
	// MetricDeviceMismatch counts device/user mismatches seen by the gate or the handshake.
	MetricDeviceMismatch
	// MetricHandshakeAuthenticated counts accepted connection handshakes.
	MetricHandshakeAuthenticated
	// MetricHandshakeRejected counts rejected connection handshakes.
	MetricHandshakeRejected
	// MetricConnectionBound counts successful connection binds.
	MetricConnectionBound
	// MetricConnectionUnbound counts connection unbinds.
	MetricConnectionUnbound
	// MetricSessionEstablished counts sessions promoted to an authenticated user.
	MetricSessionEstablished
	// MetricLogout counts single-session logouts.
	MetricLogout
	// MetricLogoutAll counts forced logouts of every session of a user.
	MetricLogoutAll
	// MetricLoadLatency is the LoadSession latency histogram.
	MetricLoadLatency
	// MetricHandshakeLatency is the AuthenticateHandshake latency histogram.
	MetricHandshakeLatency
	metricIDCount
)

const (
	histBucketCount = 8
	cacheLineSize   = 64
)

type metricHistogram struct {
	buckets [histBucketCount]uint64
}

type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Metrics holds lock-free engine counters. A nil or disabled Metrics ignores every update.
type Metrics struct {
	enabled       bool
	enableLatency bool
	counters      [metricIDCount]paddedCounter
	histograms    [metricIDCount]metricHistogram
}

// MetricsSnapshot is a point-in-time copy of every counter and histogram. Histogram buckets
// are non-cumulative.
type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
}

// NewMetrics creates a Metrics set from cfg.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		enabled:       cfg.Enabled,
		enableLatency: cfg.Enabled && cfg.EnableLatencyHistograms,
	}
}

// Enabled reports whether counters are recorded.
func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

// LatencyEnabled reports whether latency histograms are recorded.
func (m *Metrics) LatencyEnabled() bool {
	return m != nil && m.enableLatency
}

// Inc adds one to the counter id.
func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricIDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

// Observe records d in the histogram id. Only latency metrics accept observations.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if m == nil || !m.enabled || !m.enableLatency || id >= metricIDCount {
		return
	}
	if !isLatencyMetric(id) {
		return
	}

	b := bucketIndex(d)
	atomic.AddUint64(&m.histograms[id].buckets[b], 1)
}

// Value returns the current counter value.
func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

// Snapshot copies every counter, and every histogram when latency is enabled.
func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil || !m.enabled {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}

	s := MetricsSnapshot{
		Counters:   make(map[MetricID]uint64, int(metricIDCount)),
		Histograms: make(map[MetricID][]uint64, 2),
	}

	for id := MetricID(0); id < metricIDCount; id++ {
		if isLatencyMetric(id) {
			continue
		}
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}

	if m.enableLatency {
		for _, id := range []MetricID{MetricLoadLatency, MetricHandshakeLatency} {
			buckets := make([]uint64, histBucketCount)
			for i := 0; i < histBucketCount; i++ {
				buckets[i] = atomic.LoadUint64(&m.histograms[id].buckets[i])
			}
			s.Histograms[id] = buckets
		}
	}

	return s
}

func isLatencyMetric(id MetricID) bool {
	return id == MetricLoadLatency || id == MetricHandshakeLatency
}

func bucketIndex(d time.Duration) int {
	ms := d.Milliseconds()

	switch {
	case ms <= 5:
		return 0
	case ms <= 10:
		return 1
	case ms <= 25:
		return 2
	case ms <= 50:
		return 3
	case ms <= 100:
		return 4
	case ms <= 250:
		return 5
	case ms <= 500:
		return 6
	default:
		return 7
	}
}
