package cookie

import (
	"bytes"
	"testing"
)

// FuzzVerify feeds arbitrary cookie text to the verifier.
// Goal: no panics, and anything that verifies must round-trip through Sign.
func FuzzVerify(f *testing.F) {
	c, err := NewCodec(bytes.Repeat([]byte{'k'}, MinSecretLength))
	if err != nil {
		f.Fatalf("new codec: %v", err)
	}

	signed, err := c.Sign("seed-session")
	if err == nil {
		f.Add(signed)
		f.Add(signed[:len(signed)-1])
	}
	f.Add("")
	f.Add(".")
	f.Add("s:abc.def")
	f.Add("YQ.")

	f.Fuzz(func(t *testing.T, value string) {
		raw, err := c.Verify(value)
		if err != nil {
			return
		}
		again, err := c.Sign(raw)
		if err != nil {
			t.Fatalf("verified payload must be signable: %v", err)
		}
		if again != value {
			t.Fatalf("verified value %q does not match canonical form %q", value, again)
		}
	})
}
