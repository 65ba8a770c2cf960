package span

import (
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"strings"
	"testing"
	"time"
)

func testKey(t *testing.T) ed25519.PrivateKey {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("GenerateKey() failed: %v", err)
	}
	return priv
}

func TestSignVerify_RoundTrip(t *testing.T) {
	priv := testKey(t)

	signed, err := Sign(fixtureSpan(), priv, "k1", time.Now())
	if err != nil {
		t.Fatalf("Sign() failed: %v", err)
	}

	if signed.CurrHash == "" {
		t.Fatal("Sign() left curr_hash empty")
	}
	if signed.Sig == nil {
		t.Fatal("Sign() left signature block empty")
	}
	if signed.Sig.Alg != AlgEd25519Blake3 {
		t.Errorf("alg = %q, want %q", signed.Sig.Alg, AlgEd25519Blake3)
	}
	if signed.Sig.Kid != "k1" {
		t.Errorf("kid = %q, want %q", signed.Sig.Kid, "k1")
	}
	if !strings.HasPrefix(signed.Sig.KeyID, KeyIDPrefix) {
		t.Errorf("key_id = %q, want %q prefix", signed.Sig.KeyID, KeyIDPrefix)
	}

	if err := Verify(signed); err != nil {
		t.Errorf("Verify() failed on freshly signed span: %v", err)
	}
}

func TestVerify_MutatedFieldFails(t *testing.T) {
	priv := testKey(t)

	signed, err := Sign(fixtureSpan(), priv, "k1", time.Now())
	if err != nil {
		t.Fatalf("Sign() failed: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*Span)
	}{
		{"status", func(s *Span) { s.Status = "revoked" }},
		{"who", func(s *Span) { s.Who = "user:mallory" }},
		{"payload", func(s *Span) { s.Metadata["note"] = "tampered" }},
		{"seq", func(s *Span) { s.Seq = 7 }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			// Deep-enough copy: only Metadata is mutated among reference fields.
			mutated := signed
			mutated.Metadata = map[string]any{}
			for k, v := range signed.Metadata {
				mutated.Metadata[k] = v
			}
			tc.mutate(&mutated)

			err := Verify(mutated)
			if !errors.Is(err, ErrHashMismatch) {
				t.Errorf("Verify() = %v, want ErrHashMismatch", err)
			}
		})
	}
}

func TestVerify_WrongSignature(t *testing.T) {
	priv := testKey(t)
	other := testKey(t)

	signed, err := Sign(fixtureSpan(), priv, "k1", time.Now())
	if err != nil {
		t.Fatalf("Sign() failed: %v", err)
	}

	// Re-sign the payload with a different key but keep the original
	// embedded public key: hash matches, signature must not.
	forged := ed25519.Sign(other, SigningPayload(signed.CurrHash, signed.Sig.Nonce, signed.Sig.TS))
	sig := *signed.Sig
	sig.Sig = hex.EncodeToString(forged)
	signed.Sig = &sig

	if err := Verify(signed); !errors.Is(err, ErrBadSignature) {
		t.Errorf("Verify() = %v, want ErrBadSignature", err)
	}
}

func TestVerify_MissingCrypto(t *testing.T) {
	if err := Verify(fixtureSpan()); !errors.Is(err, ErrMissingCrypto) {
		t.Errorf("Verify() = %v, want ErrMissingCrypto", err)
	}
}

func TestKeyID_Stable(t *testing.T) {
	priv := testKey(t)
	pub := priv.Public().(ed25519.PublicKey)

	a := KeyID(pub)
	b := KeyID(pub)
	if a != b {
		t.Errorf("KeyID not deterministic: %s vs %s", a, b)
	}
	if !strings.HasPrefix(a, KeyIDPrefix) {
		t.Errorf("KeyID = %q, want %q prefix", a, KeyIDPrefix)
	}
}
