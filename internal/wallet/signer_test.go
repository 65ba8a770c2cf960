package wallet

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loglineos/ledger/internal/ledger"
	"github.com/loglineos/ledger/internal/secret"
	"github.com/loglineos/ledger/internal/span"
)

type fixture struct {
	service *Service
	secrets *secret.Mem
	pub     ed25519.PublicKey
}

// newFixture creates a wallet "w1" holding:
//   - "k1": ed25519, sign.span + sign.http
//   - "k2": ed25519, no capabilities
//   - "k3": provider_key, provider.invoke
func newFixture(t *testing.T) *fixture {
	t.Helper()

	store, err := ledger.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	reg, err := NewRegistry(store.DB())
	require.NoError(t, err)

	secrets := secret.NewMem()
	ctx := context.Background()

	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	require.NoError(t, secrets.Put(ctx, "keys/k1", []byte(hex.EncodeToString(priv.Seed()))))
	require.NoError(t, secrets.Put(ctx, "keys/k2", []byte(hex.EncodeToString(priv.Seed()))))
	require.NoError(t, secrets.Put(ctx, "keys/k3", []byte("sk-provider-credential")))

	require.NoError(t, reg.EnsureWallet(ctx, "w1", "user:ana", "voulezvous"))
	require.NoError(t, reg.RegisterKey(ctx, KeyItem{
		WalletID: "w1", Kid: "k1", Type: TypeEd25519,
		PublicKey: hex.EncodeToString(pub), SecretRef: "keys/k1",
		Capabilities: []string{CapSignSpan, CapSignHTTP},
	}))
	require.NoError(t, reg.RegisterKey(ctx, KeyItem{
		WalletID: "w1", Kid: "k2", Type: TypeEd25519,
		PublicKey: hex.EncodeToString(pub), SecretRef: "keys/k2",
		Capabilities: []string{},
	}))
	require.NoError(t, reg.RegisterKey(ctx, KeyItem{
		WalletID: "w1", Kid: "k3", Type: TypeProviderKey,
		SecretRef: "keys/k3", Capabilities: []string{CapProviderInvoke},
	}))

	return &fixture{
		service: NewService(reg, secrets, NewNonceStore(0)),
		secrets: secrets,
		pub:     pub,
	}
}

func sampleSpan() span.Span {
	return span.Span{
		ID:         "m1",
		EntityType: span.TypeMemory,
		Who:        "user:ana",
		Did:        "created",
		This:       "memory.note",
		At:         time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
		Status:     "active",
	}
}

func TestSignSpan_RoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, err := f.service.SignSpan(ctx, "w1", "k1", sampleSpan())
	require.NoError(t, err)

	assert.Equal(t, span.AlgEd25519Blake3, result.Sig.Alg)
	assert.Equal(t, "k1", result.Sig.Kid)
	assert.Equal(t, span.KeyID(f.pub), result.Sig.KeyID)

	// The signature verifies against the embedded public key.
	wantHash, err := span.Hash(sampleSpan())
	require.NoError(t, err)
	assert.Equal(t, wantHash, result.PayloadHash)

	sig, err := hex.DecodeString(result.Sig.Sig)
	require.NoError(t, err)
	payload := span.SigningPayload(result.PayloadHash, result.Sig.Nonce, result.Sig.TS)
	assert.True(t, ed25519.Verify(f.pub, payload, sig))
}

func TestSignSpan_CapabilityShortCircuit(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.SignSpan(context.Background(), "w1", "k2", sampleSpan())
	assert.ErrorIs(t, err, ErrPermissionDenied)

	// The private key must never have been fetched.
	assert.Equal(t, 0, f.secrets.Fetches("keys/k2"))
}

func TestSignSpan_RevokedKeyNotFound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.service.reg.RevokeKey(ctx, "w1", "k1"))

	_, err := f.service.SignSpan(ctx, "w1", "k1", sampleSpan())
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 0, f.secrets.Fetches("keys/k1"))
}

func TestSignSpan_UnknownKid(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.SignSpan(context.Background(), "w1", "nope", sampleSpan())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSignHTTP_VerifyAndReplay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	body := []byte(`{"entity_type":"memory"}`)
	headers, err := f.service.SignHTTP(ctx, "w1", "k1", "POST", "/spans?limit=1", body)
	require.NoError(t, err)

	require.NoError(t, f.service.VerifyHTTP(ctx, "w1", headers, "POST", "/spans?limit=1", body))

	// Same nonce again within the window: replay.
	err = f.service.VerifyHTTP(ctx, "w1", headers, "POST", "/spans?limit=1", body)
	assert.ErrorIs(t, err, ErrReplay)
}

func TestSignHTTP_TamperedBodyFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	body := []byte(`{"entity_type":"memory"}`)
	headers, err := f.service.SignHTTP(ctx, "w1", "k1", "POST", "/spans", body)
	require.NoError(t, err)

	err = f.service.VerifyHTTP(ctx, "w1", headers, "POST", "/spans", []byte(`{"entity_type":"manifest"}`))
	assert.ErrorIs(t, err, span.ErrHashMismatch)
}

func TestSignHTTP_RequiresCapability(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.SignHTTP(context.Background(), "w1", "k2", "GET", "/timeline", nil)
	assert.ErrorIs(t, err, ErrPermissionDenied)
	assert.Equal(t, 0, f.secrets.Fetches("keys/k2"))
}

func TestOpen_Session(t *testing.T) {
	f := newFixture(t)

	sess, err := f.service.Open(context.Background(), "w1")
	require.NoError(t, err)
	assert.Equal(t, "w1", sess.WalletID)
	assert.NotEmpty(t, sess.SessionID)
	assert.Greater(t, sess.Exp, time.Now().Unix())
}

func TestOpen_UnknownWallet(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.Open(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestNonceStore_ExpiresAfterTTL(t *testing.T) {
	n := NewNonceStore(time.Minute)
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	n.Now = func() time.Time { return now }

	assert.True(t, n.Remember("k1", "n1"))
	assert.False(t, n.Remember("k1", "n1"))

	// Different kid, same nonce: independent.
	assert.True(t, n.Remember("k2", "n1"))

	// Past the window the nonce is forgotten.
	now = now.Add(2 * time.Minute)
	assert.True(t, n.Remember("k1", "n1"))
}
