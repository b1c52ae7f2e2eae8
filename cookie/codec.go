package cookie

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"strings"
)

const (
	// MinSecretLength is the smallest accepted HMAC secret, in bytes.
	MinSecretLength = 32

	separator = "."
	macDomain = "sessiongate.v1."

	// maxSignedLength keeps verification work bounded for hostile input.
	maxSignedLength = 4096
)

var (
	// ErrInvalidSignature is returned for any value that does not verify.
	ErrInvalidSignature = errors.New("invalid signature")
	// ErrNoSecrets is returned by NewCodec when no secret is configured.
	ErrNoSecrets = errors.New("cookie codec requires at least one secret")
	// ErrSecretTooShort is returned by NewCodec for secrets under MinSecretLength.
	ErrSecretTooShort = errors.New("cookie secret must be at least 32 bytes")
)

// Strict decoding rejects non-zero trailing bits, so every character of a segment is significant.
var encoding = base64.RawURLEncoding.Strict()

// Codec signs and verifies cookie values. It is immutable after construction and safe for
// concurrent use.
type Codec struct {
	secrets [][]byte
	domain  string
}

// NewCodec builds a Codec. The first secret signs new values; all secrets are accepted
// during verification.
func NewCodec(secrets ...[]byte) (*Codec, error) {
	if len(secrets) == 0 {
		return nil, ErrNoSecrets
	}

	owned := make([][]byte, 0, len(secrets))
	for _, secret := range secrets {
		if len(secret) < MinSecretLength {
			return nil, ErrSecretTooShort
		}
		owned = append(owned, append([]byte(nil), secret...))
	}

	return &Codec{secrets: owned, domain: macDomain}, nil
}

// ForPurpose returns a Codec sharing c's secrets whose MACs also cover purpose. A value signed
// for one purpose never verifies for another.
func (c *Codec) ForPurpose(purpose string) *Codec {
	if c == nil {
		return nil
	}
	return &Codec{secrets: c.secrets, domain: macDomain + purpose + separator}
}

// Sign returns the signed form of raw. An empty raw value is rejected so that a signed
// cookie never carries an empty identifier.
func (c *Codec) Sign(raw string) (string, error) {
	if c == nil || len(c.secrets) == 0 {
		return "", ErrNoSecrets
	}
	if raw == "" {
		return "", ErrInvalidSignature
	}

	payload := encoding.EncodeToString([]byte(raw))
	mac := computeMAC(c.secrets[0], c.domain, payload)

	var b strings.Builder
	b.Grow(len(payload) + 1 + encoding.EncodedLen(len(mac)))
	b.WriteString(payload)
	b.WriteString(separator)
	b.WriteString(encoding.EncodeToString(mac))
	return b.String(), nil
}

// Verify checks signed against every configured secret and returns the decoded payload.
func (c *Codec) Verify(signed string) (string, error) {
	if c == nil || len(c.secrets) == 0 {
		return "", ErrInvalidSignature
	}
	if signed == "" || len(signed) > maxSignedLength || !isASCII(signed) {
		return "", ErrInvalidSignature
	}

	payload, sig, ok := strings.Cut(signed, separator)
	if !ok || payload == "" || sig == "" || strings.Contains(sig, separator) {
		return "", ErrInvalidSignature
	}

	got, err := encoding.DecodeString(sig)
	if err != nil || len(got) != sha256.Size {
		return "", ErrInvalidSignature
	}

	matched := false
	for _, secret := range c.secrets {
		// Every secret is checked so the timing does not reveal which key matched.
		if hmac.Equal(got, computeMAC(secret, c.domain, payload)) {
			matched = true
		}
	}
	if !matched {
		return "", ErrInvalidSignature
	}

	raw, err := encoding.DecodeString(payload)
	if err != nil || len(raw) == 0 {
		return "", ErrInvalidSignature
	}

	return string(raw), nil
}

func computeMAC(secret []byte, domain, payload string) []byte {
	m := hmac.New(sha256.New, secret)
	m.Write([]byte(domain))
	m.Write([]byte(payload))
	return m.Sum(nil)
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < 0x21 || s[i] > 0x7e {
			return false
		}
	}
	return true
}
