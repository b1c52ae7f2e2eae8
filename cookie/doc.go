// Package cookie signs and verifies the identity cookie values exchanged with browsers.
//
// # Format
//
// A signed value is two base64url (unpadded) segments joined by a single '.':
//
//	base64url(raw) "." base64url(HMAC-SHA256(secret, domain + base64url(raw)))
//
// domain is "sessiongate.v1." for a plain [Codec] and "sessiongate.v1.<purpose>." for one
// returned by [Codec.ForPurpose], so values signed for one purpose never verify for another.
// Signing is deterministic for a fixed secret. Verification decodes the payload segment
// structurally; callers never slice identifiers out of the raw cookie text.
//
// # Key rotation
//
// A [Codec] holds an ordered secret list. The first secret signs, every secret verifies, so a
// new secret can be rolled in ahead of retiring the old one.
//
// # What this package must NOT do
//
//   - Touch the session store or know what the payload means.
//   - Report which check failed: every failure is [ErrInvalidSignature].
package cookie
