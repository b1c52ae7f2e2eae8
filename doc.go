// Package sessiongate authenticates HTTP requests and persistent realtime connections against
// one shared, Redis-backed session record.
//
// The package is designed for concurrent server workloads: Engine methods are safe to call
// from multiple goroutines after initialization through [Builder.Build].
//
// # Architecture boundaries
//
// sessiongate is the public surface. It exposes [Engine], [Builder], [Config], and value
// types (SessionResult, Identity, Capability, MetricsSnapshot). Cookie signing lives in the
// cookie package, record persistence in the session package, and gate orchestration under
// internal/flows.
//
// # What this package must NOT do
//
//   - Cache session records between calls. Every operation re-reads the store so that all
//     processes observe the same state.
//   - Treat a store failure as an anonymous session.
//   - Return the reason for a denial to the caller. Reasons go to logs, metrics and audit.
//
// # Performance contract
//
// LoadSession costs one HGETALL plus one Lua refresh for a known session, or one MULTI block
// for a new one. Authorize performs no I/O. AuthenticateHandshake costs one HGETALL.
package sessiongate
