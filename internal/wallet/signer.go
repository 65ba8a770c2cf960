package wallet

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/loglineos/ledger/internal/secret"
	"github.com/loglineos/ledger/internal/span"
)

// Signed-request header names.
const (
	HeaderPayloadHash = "X-LogLine-Payload-Hash"
	HeaderKeyID       = "X-LogLine-Key-Id"
	HeaderKid         = "X-LogLine-Kid"
	HeaderTS          = "X-LogLine-Ts"
	HeaderNonce       = "X-LogLine-Nonce"
	HeaderSignature   = "X-LogLine-Signature"
)

// Service performs signing operations against a registry and secret
// store. Private key bytes are fetched per call and never retained.
type Service struct {
	reg     *Registry
	secrets secret.Store
	nonces  *NonceStore

	// Now is the time source for signature timestamps.
	Now func() time.Time
}

// NewService wires a signing service.
func NewService(reg *Registry, secrets secret.Store, nonces *NonceStore) *Service {
	return &Service{reg: reg, secrets: secrets, nonces: nonces, Now: time.Now}
}

// Registry exposes the underlying registry for key lifecycle calls.
func (s *Service) Registry() *Registry { return s.reg }

// Session is a short-lived wallet session handle.
type Session struct {
	SessionID string `json:"wallet_session"`
	WalletID  string `json:"wallet_id"`
	Exp       int64  `json:"exp"`
}

// sessionTTL bounds wallet sessions.
const sessionTTL = 10 * time.Minute

// Open verifies the wallet is active and returns a short-lived session.
func (s *Service) Open(ctx context.Context, walletID string) (Session, error) {
	_, _, status, err := s.reg.Wallet(ctx, walletID)
	if err != nil {
		return Session{}, err
	}
	if status != "active" {
		return Session{}, fmt.Errorf("wallet %s inactive: %w", walletID, ErrNotFound)
	}
	return Session{
		SessionID: "wss_" + uuid.NewString(),
		WalletID:  walletID,
		Exp:       s.Now().Add(sessionTTL).Unix(),
	}, nil
}

// SignResult carries a payload hash and its signature block.
type SignResult struct {
	PayloadHash string          `json:"payload_hash"`
	Sig         *span.Signature `json:"sig"`
}

// SignSpan canonicalizes the span (dropping any existing signature
// fields), hashes it, and signs hash|nonce|ts with the Ed25519 key named
// by kid.
//
// Order matters: the capability check precedes the secret fetch, so a
// kid without sign.span never causes key material to move.
func (s *Service) SignSpan(ctx context.Context, walletID, kid string, sp span.Span) (SignResult, error) {
	item, err := s.reg.activeKey(ctx, walletID, kid)
	if err != nil {
		return SignResult{}, err
	}
	if item.Type != TypeEd25519 {
		return SignResult{}, fmt.Errorf("wallet: key %s/%s is not a signing key: %w", walletID, kid, ErrNotFound)
	}
	if !item.HasCapability(CapSignSpan) {
		return SignResult{}, fmt.Errorf("wallet: key %s/%s lacks %s: %w", walletID, kid, CapSignSpan, ErrPermissionDenied)
	}

	hash, err := span.Hash(sp)
	if err != nil {
		return SignResult{}, err
	}
	return s.signPayload(ctx, item, hash)
}

// SignHTTP signs an outbound HTTP request: BLAKE3 over
// "method\npathWithQuery\ncanonicalBody", then the usual hash|nonce|ts
// scheme. Requires the sign.http capability. Returns the header set the
// caller attaches to the request.
func (s *Service) SignHTTP(ctx context.Context, walletID, kid, method, pathWithQuery string, canonicalBody []byte) (http.Header, error) {
	item, err := s.reg.activeKey(ctx, walletID, kid)
	if err != nil {
		return nil, err
	}
	if item.Type != TypeEd25519 {
		return nil, fmt.Errorf("wallet: key %s/%s is not a signing key: %w", walletID, kid, ErrNotFound)
	}
	if !item.HasCapability(CapSignHTTP) {
		return nil, fmt.Errorf("wallet: key %s/%s lacks %s: %w", walletID, kid, CapSignHTTP, ErrPermissionDenied)
	}

	hash := span.HashBytes(httpPayload(method, pathWithQuery, canonicalBody))
	result, err := s.signPayload(ctx, item, hash)
	if err != nil {
		return nil, err
	}

	h := http.Header{}
	h.Set(HeaderPayloadHash, result.PayloadHash)
	h.Set(HeaderKeyID, result.Sig.KeyID)
	h.Set(HeaderKid, result.Sig.Kid)
	h.Set(HeaderTS, strconv.FormatInt(result.Sig.TS, 10))
	h.Set(HeaderNonce, result.Sig.Nonce)
	h.Set(HeaderSignature, result.Sig.Sig)
	return h, nil
}

// VerifyHTTP checks a signed request against the registered public key
// for the claimed kid and enforces the anti-replay window: a nonce seen
// before within the TTL is rejected with ErrReplay.
func (s *Service) VerifyHTTP(ctx context.Context, walletID string, h http.Header, method, pathWithQuery string, canonicalBody []byte) error {
	kid := h.Get(HeaderKid)
	nonce := h.Get(HeaderNonce)
	sigHex := h.Get(HeaderSignature)
	if kid == "" || nonce == "" || sigHex == "" {
		return fmt.Errorf("wallet: request missing signature headers: %w", span.ErrMissingCrypto)
	}
	ts, err := strconv.ParseInt(h.Get(HeaderTS), 10, 64)
	if err != nil {
		return fmt.Errorf("wallet: bad %s header: %w", HeaderTS, err)
	}

	item, err := s.reg.activeKey(ctx, walletID, kid)
	if err != nil {
		return err
	}
	pub, err := hex.DecodeString(item.PublicKey)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return fmt.Errorf("wallet: key %s/%s has no usable public key", walletID, kid)
	}

	hash := span.HashBytes(httpPayload(method, pathWithQuery, canonicalBody))
	if got := h.Get(HeaderPayloadHash); got != hash {
		return fmt.Errorf("%w: payload hash %s, computed %s", span.ErrHashMismatch, got, hash)
	}

	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		return fmt.Errorf("wallet: decode signature: %w", err)
	}
	if !ed25519.Verify(pub, span.SigningPayload(hash, nonce, ts), sig) {
		return span.ErrBadSignature
	}

	// Replay check last: a forged request must not burn a nonce.
	if !s.nonces.Remember(kid, nonce) {
		return fmt.Errorf("wallet: nonce %s for %s: %w", nonce, kid, ErrReplay)
	}
	return nil
}

func httpPayload(method, pathWithQuery string, body []byte) []byte {
	payload := make([]byte, 0, len(method)+len(pathWithQuery)+len(body)+2)
	payload = append(payload, method...)
	payload = append(payload, '\n')
	payload = append(payload, pathWithQuery...)
	payload = append(payload, '\n')
	payload = append(payload, body...)
	return payload
}

// signPayload fetches the Ed25519 seed, signs, and scopes the key bytes
// to this call.
func (s *Service) signPayload(ctx context.Context, item KeyItem, payloadHash string) (SignResult, error) {
	seedHex, err := s.secrets.Get(ctx, item.SecretRef)
	if err != nil {
		if errors.Is(err, secret.ErrNotFound) {
			return SignResult{}, fmt.Errorf("wallet: secret for %s/%s: %w", item.WalletID, item.Kid, ErrNotFound)
		}
		return SignResult{}, fmt.Errorf("wallet: fetch secret: %w", err)
	}

	seed, err := hex.DecodeString(string(seedHex))
	if err != nil {
		return SignResult{}, fmt.Errorf("wallet: decode key seed: %w", err)
	}
	if len(seed) != ed25519.SeedSize {
		return SignResult{}, fmt.Errorf("wallet: key seed is %d bytes, want %d", len(seed), ed25519.SeedSize)
	}
	priv := ed25519.NewKeyFromSeed(seed)
	defer zero(seed)
	defer zero(priv)

	pub := priv.Public().(ed25519.PublicKey)
	nonce := uuid.NewString()
	ts := s.Now().UnixMilli()

	sig := ed25519.Sign(priv, span.SigningPayload(payloadHash, nonce, ts))

	return SignResult{
		PayloadHash: payloadHash,
		Sig: &span.Signature{
			Alg:       span.AlgEd25519Blake3,
			KeyID:     span.KeyID(pub),
			Kid:       item.Kid,
			PublicKey: hex.EncodeToString(pub),
			TS:        ts,
			Nonce:     nonce,
			Sig:       hex.EncodeToString(sig),
		},
	}, nil
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
