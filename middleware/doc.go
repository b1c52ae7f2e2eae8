// Package middleware exposes HTTP adapters that put a sessiongate.Engine in front of
// ordinary net/http handlers.
//
// # Middleware
//
//   - [Session]: loads or creates the session for every request, re-issues the rolling
//     session cookie and attaches the record to the request context.
//   - [Require]: runs the identity gate (and optional capabilities) for protected routes.
//   - [ClientIP]: records the caller address for logs and audit events.
//
// [Establish] and [Logout] are helpers for the host's own login and logout handlers.
//
// # Architecture boundaries
//
// This package translates HTTP semantics into Engine calls. It does NOT implement
// authentication logic itself; all decisions are delegated to the Engine.
//
// # What this package must NOT do
//
//   - Sign or verify cookies directly (delegates to Engine).
//   - Access Redis (Engine handles I/O).
//   - Write a denial or failure reason into a response body.
package middleware
