// Package internal contains helper utilities that are intentionally private to sessiongate,
// including secure identifier generation and log-safe fingerprints.
//
// # Sub-packages
//
//   - flows — pure-function orchestrators for the authorization gate and the connection
//     handshake
//
// # What this package must NOT do
//
//   - Export types that appear in the public sessiongate API.
//   - Be imported by any package outside the sessiongate module.
package internal
