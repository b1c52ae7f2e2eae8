// Package session provides Redis-backed persistence for gateway session records.
//
// # Record layout
//
// Each session is one Redis HASH at <prefix>:<sessionID>. Scalar attributes are plain fields
// (sid, uid, created_at, expires_at, v) and every bound connection is its own field
// (conn:<connectionID>). Because the HTTP path only writes expires_at and the connection path
// only writes conn:* fields, both can mutate the same record concurrently without either
// overwriting the other.
//
// # Atomicity
//
// Every mutation that must not resurrect a deleted record (refresh, bind, authenticate) runs
// as a single Lua script that checks EXISTS first. The bind script also enforces the record
// invariant that a connection is only ever bound to a session with a user.
//
// # Architecture boundaries
//
// This package owns the [Store] (Redis operations) and the [Session] model. It does NOT verify
// cookies, make authorization decisions, or know about HTTP or WebSockets; those belong to the
// Engine.
//
// # What this package must NOT do
//
//   - Import sessiongate, cookie, middleware or realtime (no upward imports).
//   - Cache records in process memory; every call reads Redis.
package session
