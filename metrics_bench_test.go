package sessiongate

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

// gateHotMetricIDs are the counters every request and handshake touches.
var gateHotMetricIDs = [...]MetricID{
	MetricSessionRefreshed,
	MetricAuthorizeAllowed,
	MetricAuthorizeDenied,
	MetricDeviceMismatch,
	MetricHandshakeAuthenticated,
	MetricHandshakeRejected,
	MetricConnectionBound,
	MetricConnectionUnbound,
}

type packedGateCounters struct {
	counters [metricIDCount]uint64
}

func (m *packedGateCounters) Inc(id MetricID) {
	atomic.AddUint64(&m.counters[id], 1)
}

// BenchmarkGateCountersContended compares the padded engine counters with a packed array
// while every goroutine cycles through the gate and handshake counters.
func BenchmarkGateCountersContended(b *testing.B) {
	cases := []struct {
		name string
		inc  func(MetricID)
	}{
		{"padded", NewMetrics(MetricsConfig{Enabled: true}).Inc},
		{"packed", (&packedGateCounters{}).Inc},
		{"disabled", NewMetrics(MetricsConfig{Enabled: false}).Inc},
	}
	for _, c := range cases {
		b.Run(c.name, func(b *testing.B) {
			b.ReportAllocs()
			b.RunParallel(func(pb *testing.PB) {
				var s uint64 = 0x9e3779b97f4a7c15
				for pb.Next() {
					// xorshift64
					s ^= s >> 12
					s ^= s << 25
					s ^= s >> 27
					c.inc(gateHotMetricIDs[s%uint64(len(gateHotMetricIDs))])
				}
			})
		})
	}
}

func BenchmarkObserveHandshakeLatencyParallel(b *testing.B) {
	m := NewMetrics(MetricsConfig{Enabled: true, EnableLatencyHistograms: true})
	b.ReportAllocs()

	b.RunParallel(func(pb *testing.PB) {
		d := 3 * time.Millisecond
		for pb.Next() {
			m.Observe(MetricHandshakeLatency, d)
		}
	})
}

func BenchmarkAuthorizeParallel(b *testing.B) {
	te := newTestEngine(b, nil, nil)
	ctx := context.Background()

	est, err := te.Establish(ctx, "", "u-bench")
	if err != nil {
		b.Fatalf("Establish: %v", err)
	}
	sess := est.Session
	device := est.DeviceCookie.Value

	b.Run("allow", func(b *testing.B) {
		b.ReportAllocs()
		b.RunParallel(func(pb *testing.PB) {
			for pb.Next() {
				if err := te.Authorize(ctx, sess, device); err != nil {
					b.Errorf("Authorize: %v", err)
					return
				}
			}
		})
	})

	b.Run("deny_device", func(b *testing.B) {
		b.ReportAllocs()
		b.RunParallel(func(pb *testing.PB) {
			for pb.Next() {
				_ = te.Authorize(ctx, sess, "")
			}
		})
	})
}

func BenchmarkAuthenticateHandshakeParallel(b *testing.B) {
	te := newTestEngine(b, nil, nil)
	ctx := context.Background()

	est, err := te.Establish(ctx, "", "u-bench")
	if err != nil {
		b.Fatalf("Establish: %v", err)
	}
	hs := Handshake{
		CookieHeader: cookieHeader("sg_session", est.SessionCookie.Value, "sg_device", est.DeviceCookie.Value),
		RemoteAddr:   "198.51.100.4:5000",
	}

	b.ReportAllocs()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			if _, err := te.AuthenticateHandshake(ctx, hs); err != nil {
				b.Errorf("AuthenticateHandshake: %v", err)
				return
			}
		}
	})
}
