// Package otel provides OpenTelemetry bindings for sessiongate engine metrics.
//
// Engine counters are grouped into a few observable counters told apart by an attribute:
// sessiongate.session.events{event}, sessiongate.authorize.decisions{outcome},
// sessiongate.handshake.results{outcome} and sessiongate.connection.events{event}. Latency
// histograms become a cumulative bucket gauge keyed by le plus a count gauge. One callback
// reads [sessiongate.Engine.MetricsSnapshot] on each collection cycle.
//
// # What this package must NOT do
//
//   - Own the MeterProvider; callers supply the Meter.
//   - Mutate engine state.
package otel
