// Package prometheus exposes sessiongate engine metrics as a Prometheus collector.
//
// [Exporter] implements prometheus.Collector by reading
// [sessiongate.Engine.MetricsSnapshot] on every scrape. Counters are named
// sessiongate_*_total; the two latency histograms are sessiongate_load_latency_seconds and
// sessiongate_handshake_latency_seconds.
//
// # What this package must NOT do
//
//   - Register in the global Prometheus registry; callers pick the Registerer or mount
//     [Exporter.Handler].
//   - Mutate engine state.
package prometheus
