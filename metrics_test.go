package sessiongate

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestMetricsDisabledNoIncrement(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: false})
	m.Inc(MetricSessionCreated)

	if got := m.Value(MetricSessionCreated); got != 0 {
		t.Fatalf("expected 0, got %d", got)
	}
}

func TestMetricsConcurrentIncrementSafe(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})

	const goroutines = 32
	const perG = 4000

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < perG; j++ {
				m.Inc(MetricSessionRefreshed)
			}
		}()
	}
	wg.Wait()

	want := uint64(goroutines * perG)
	if got := m.Value(MetricSessionRefreshed); got != want {
		t.Fatalf("expected %d, got %d", want, got)
	}
}

func TestMetricsHistogramBucketCorrectness(t *testing.T) {
	m := NewMetrics(MetricsConfig{
		Enabled:                 true,
		EnableLatencyHistograms: true,
	})

	observations := []time.Duration{
		5 * time.Millisecond,
		10 * time.Millisecond,
		25 * time.Millisecond,
		50 * time.Millisecond,
		100 * time.Millisecond,
		250 * time.Millisecond,
		500 * time.Millisecond,
		700 * time.Millisecond,
	}

	for _, d := range observations {
		m.Observe(MetricHandshakeLatency, d)
	}
	// counters never accept observations
	m.Observe(MetricSessionCreated, time.Millisecond)

	snap := m.Snapshot()
	buckets := snap.Histograms[MetricHandshakeLatency]
	if len(buckets) != 8 {
		t.Fatalf("expected 8 buckets, got %d", len(buckets))
	}
	for i, v := range buckets {
		if v != 1 {
			t.Fatalf("bucket %d expected 1, got %d", i, v)
		}
	}
	if _, ok := snap.Histograms[MetricSessionCreated]; ok {
		t.Fatal("counter must not appear as a histogram")
	}
	if _, ok := snap.Counters[MetricHandshakeLatency]; ok {
		t.Fatal("histogram must not appear as a counter")
	}
}

func TestEngineMetricsFollowOperations(t *testing.T) {
	te := newTestEngine(t, func(c *Config) {
		c.Metrics.EnableLatencyHistograms = true
	}, nil)
	ctx := context.Background()

	sessionCookie, deviceCookie, _ := te.authenticatedSession(t, "u-1")
	res, err := te.LoadSession(ctx, sessionCookie)
	if err != nil {
		t.Fatalf("LoadSession: %v", err)
	}
	_ = te.Authorize(ctx, res.Session, deviceCookie)
	_ = te.Authorize(ctx, res.Session, "")
	_, _ = te.AuthenticateHandshake(ctx, Handshake{})

	snap := te.MetricsSnapshot()
	checks := map[MetricID]uint64{
		MetricSessionCreated:    1,
		MetricSessionRefreshed:  1,
		MetricAuthorizeAllowed:  1,
		MetricAuthorizeDenied:   1,
		MetricHandshakeRejected: 1,
	}
	for id, want := range checks {
		if got := snap.Counters[id]; got != want {
			t.Fatalf("metric %d: expected %d, got %d", id, want, got)
		}
	}

	var loads uint64
	for _, v := range snap.Histograms[MetricLoadLatency] {
		loads += v
	}
	if loads != 2 {
		t.Fatalf("expected 2 load latency observations, got %d", loads)
	}
}
