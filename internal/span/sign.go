package span

import (
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AlgEd25519Blake3 is the only signature scheme currently produced.
const AlgEd25519Blake3 = "ed25519-blake3-v1"

// Errors returned by Verify.
var (
	ErrMissingCrypto = errors.New("span: missing cryptographic fields")
	ErrHashMismatch  = errors.New("span: content hash mismatch")
	ErrBadSignature  = errors.New("span: invalid signature")
)

// Sign computes the span's content hash and attaches a signature block.
// The returned span carries curr_hash, the embedded public key, and an
// Ed25519 signature over SigningPayload(hash, nonce, ts).
//
// The input span's existing signature fields, if any, are ignored: the
// hash always covers the canonical (signature-free) form.
func Sign(s Span, priv ed25519.PrivateKey, kid string, now time.Time) (Span, error) {
	hash, err := Hash(s)
	if err != nil {
		return Span{}, err
	}

	pub := priv.Public().(ed25519.PublicKey)
	nonce := uuid.NewString()
	ts := now.UnixMilli()

	sig := ed25519.Sign(priv, SigningPayload(hash, nonce, ts))

	s.CurrHash = hash
	s.Sig = &Signature{
		Alg:       AlgEd25519Blake3,
		KeyID:     KeyID(pub),
		Kid:       kid,
		PublicKey: hex.EncodeToString(pub),
		TS:        ts,
		Nonce:     nonce,
		Sig:       hex.EncodeToString(sig),
	}
	return s, nil
}

// Verify checks a signed span's integrity: the stored curr_hash must
// equal the recomputed canonical hash, and the signature must verify
// against the embedded public key. Any failure is fatal to the caller's
// operation, never advisory.
func Verify(s Span) error {
	if s.CurrHash == "" || s.Sig == nil || s.Sig.PublicKey == "" {
		return ErrMissingCrypto
	}

	hash, err := Hash(s)
	if err != nil {
		return err
	}
	if hash != s.CurrHash {
		return fmt.Errorf("%w: stored %s, computed %s", ErrHashMismatch, s.CurrHash, hash)
	}

	pub, err := hex.DecodeString(s.Sig.PublicKey)
	if err != nil {
		return fmt.Errorf("span: decode public key: %w", err)
	}
	if len(pub) != ed25519.PublicKeySize {
		return fmt.Errorf("span: public key is %d bytes, want %d", len(pub), ed25519.PublicKeySize)
	}

	sigBytes, err := hex.DecodeString(s.Sig.Sig)
	if err != nil {
		return fmt.Errorf("span: decode signature: %w", err)
	}

	payload := SigningPayload(s.CurrHash, s.Sig.Nonce, s.Sig.TS)
	if !ed25519.Verify(pub, payload, sigBytes) {
		return ErrBadSignature
	}
	return nil
}
