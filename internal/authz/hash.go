package authz

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"

	"golang.org/x/crypto/argon2"
)

// Argon2id parameters for token hashing. Tuned for a service that
// validates a handful of tokens per second, not a login endpoint.
const (
	argonTime    = 3
	argonMemory  = 64 * 1024 // KiB
	argonThreads = 4
	argonKeyLen  = 32
	argonSaltLen = 16
)

// tokenHash maps a bearer secret to its storage key.
//
// The secret is first keyed through HMAC-SHA256 with the deployment
// pepper, so a stolen database alone cannot be brute-forced offline.
// The argon2id salt is derived from the HMAC output rather than drawn
// at random: the hash must be a deterministic function of
// (pepper, secret) so that validation is a single primary-key lookup.
// Uniqueness of the salt per token follows from uniqueness of the
// secret.
func tokenHash(pepper []byte, secret string) string {
	mac := hmac.New(sha256.New, pepper)
	mac.Write([]byte(secret))
	keyed := mac.Sum(nil)

	salt := sha256.Sum256(append([]byte("token-salt:"), keyed...))
	sum := argon2.IDKey(keyed, salt[:argonSaltLen], argonTime, argonMemory, argonThreads, argonKeyLen)
	return hex.EncodeToString(sum)
}

// hashPreview returns the short form of a token hash used in listings
// and audit metadata. Long enough to disambiguate, short enough that it
// is useless as a lookup key.
func hashPreview(hash string) string {
	if len(hash) <= 12 {
		return hash
	}
	return hash[:12]
}
