// Package flows contains pure-function orchestrators for the Engine's gate operations.
//
// Each flow function (RunAuthorize, RunHandshake) accepts a typed dependency struct and
// returns a classified result without side-effects beyond those dependencies. The Engine
// maps results onto its public errors, logs, metrics and audit events.
//
// # Architecture boundaries
//
// Flow functions coordinate calls to the cookie codec and the session store. They do NOT
// own either resource; ownership stays with the Engine.
//
// # What this package must NOT do
//
//   - Hold mutable state between calls.
//   - Import sessiongate (to avoid import cycles).
//   - Perform I/O directly. All I/O is mediated through dependency functions.
package flows
