package flows

import "crypto/subtle"

// Deps groups flow dependency sets. Root engine builds this once and delegates
// request methods to the matching flow implementation.
type Deps struct {
	Authorize AuthorizeDeps
	Handshake HandshakeDeps
}

// ConstantTimeEqual compares two identifiers without leaking the length of their common
// prefix.
func ConstantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
