package span

import (
	"encoding/hex"
	"fmt"

	"github.com/zeebo/blake3"
)

// HashPrefix tags BLAKE3 hashes on the wire so the algorithm can be
// migrated later without ambiguity.
const HashPrefix = "b3:"

// KeyIDPrefix is the DID method prefix for signer key identifiers.
const KeyIDPrefix = "did:logline:"

// HashBytes returns the "b3:"-tagged hex BLAKE3 hash of raw bytes.
func HashBytes(data []byte) string {
	sum := blake3.Sum256(data)
	return HashPrefix + hex.EncodeToString(sum[:])
}

// Hash computes the span's content hash: BLAKE3 over the canonical form.
// The signature block and any stored curr_hash are excluded, so the hash
// of a signed span equals the hash computed before signing.
func Hash(s Span) (string, error) {
	canonical, err := Canonical(s)
	if err != nil {
		return "", err
	}
	return HashBytes(canonical), nil
}

// KeyID derives the DID-style identifier for an Ed25519 public key:
// "did:logline:" + hex(BLAKE3(hex(publicKey))).
//
// The hash runs over the lowercase hex encoding of the key, not the raw
// bytes. That matches the identifiers already present in stored ledgers.
func KeyID(publicKey []byte) string {
	sum := blake3.Sum256([]byte(hex.EncodeToString(publicKey)))
	return KeyIDPrefix + hex.EncodeToString(sum[:])
}

// SigningPayload builds the exact byte string covered by an Ed25519
// signature: "payloadHash|nonce|ts". Keeping this in one place means the
// signer and every verifier agree by construction.
func SigningPayload(payloadHash, nonce string, ts int64) []byte {
	return []byte(fmt.Sprintf("%s|%s|%d", payloadHash, nonce, ts))
}
