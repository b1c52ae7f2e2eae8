// Package realtime serves session-authenticated WebSocket connections on top of a
// sessiongate.Engine.
//
// # Flow
//
//  1. [Gateway.ServeHTTP] authenticates the upgrade request from its Cookie header.
//  2. The connection is accepted, given a fresh id and bound to the session record.
//  3. Messages addressed to a session fan out to every bound connection through a [Relay];
//     [RedisRelay] lets any process reach a connection held by another.
//  4. On close the connection is unbound; the session itself survives.
//
// A rejected handshake is accepted only to be closed at once with status 1008 (policy
// violation) or 1011 (internal error). Frames are never re-authenticated.
//
// # What this package must NOT do
//
//   - Verify cookies or touch session records directly (delegates to Engine).
//   - Create sessions; a connection without one is refused.
package realtime
