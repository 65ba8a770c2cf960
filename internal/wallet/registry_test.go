package wallet

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loglineos/ledger/internal/ledger"
)

func newRegistry(t *testing.T) *Registry {
	t.Helper()
	store, err := ledger.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	reg, err := NewRegistry(store.DB())
	require.NoError(t, err)
	return reg
}

func TestRegisterKey_Conflict(t *testing.T) {
	reg := newRegistry(t)
	ctx := context.Background()

	require.NoError(t, reg.EnsureWallet(ctx, "w1", "user:ana", "voulezvous"))

	item := KeyItem{
		WalletID: "w1", Kid: "k1", Type: TypeEd25519,
		SecretRef: "keys/k1", Capabilities: []string{CapSignSpan},
	}
	require.NoError(t, reg.RegisterKey(ctx, item))

	err := reg.RegisterKey(ctx, item)
	assert.ErrorIs(t, err, ErrConflict)
}

func TestRegisterKey_ConflictSurvivesRevocation(t *testing.T) {
	reg := newRegistry(t)
	ctx := context.Background()

	require.NoError(t, reg.EnsureWallet(ctx, "w1", "user:ana", "voulezvous"))
	item := KeyItem{
		WalletID: "w1", Kid: "k1", Type: TypeEd25519,
		SecretRef: "keys/k1", Capabilities: []string{CapSignSpan},
	}
	require.NoError(t, reg.RegisterKey(ctx, item))
	require.NoError(t, reg.RevokeKey(ctx, "w1", "k1"))

	// Kids are never reused, even after revocation.
	err := reg.RegisterKey(ctx, item)
	assert.ErrorIs(t, err, ErrConflict)
}

func TestRotateKey_ReplacesSecretRef(t *testing.T) {
	reg := newRegistry(t)
	ctx := context.Background()

	require.NoError(t, reg.EnsureWallet(ctx, "w1", "user:ana", "voulezvous"))
	require.NoError(t, reg.RegisterKey(ctx, KeyItem{
		WalletID: "w1", Kid: "k1", Type: TypeEd25519,
		SecretRef: "keys/k1-v1", Capabilities: []string{CapSignSpan},
	}))

	require.NoError(t, reg.RotateKey(ctx, "w1", "k1", "keys/k1-v2", "aabb"))

	item, err := reg.activeKey(ctx, "w1", "k1")
	require.NoError(t, err)
	assert.Equal(t, "keys/k1-v2", item.SecretRef)
	assert.Equal(t, "aabb", item.PublicKey)
	assert.Equal(t, []string{CapSignSpan}, item.Capabilities, "capabilities preserved across rotation")
}

func TestRotateKey_UnknownKid(t *testing.T) {
	reg := newRegistry(t)
	ctx := context.Background()

	require.NoError(t, reg.EnsureWallet(ctx, "w1", "user:ana", "voulezvous"))
	err := reg.RotateKey(ctx, "w1", "missing", "keys/x", "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListKeys_IncludesRevoked(t *testing.T) {
	reg := newRegistry(t)
	ctx := context.Background()

	require.NoError(t, reg.EnsureWallet(ctx, "w1", "user:ana", "voulezvous"))
	require.NoError(t, reg.RegisterKey(ctx, KeyItem{
		WalletID: "w1", Kid: "k1", Type: TypeEd25519,
		SecretRef: "keys/k1", Capabilities: []string{CapSignSpan},
	}))
	require.NoError(t, reg.RegisterKey(ctx, KeyItem{
		WalletID: "w1", Kid: "k2", Type: TypeProviderKey,
		SecretRef: "keys/k2", Capabilities: []string{CapProviderInvoke},
	}))
	require.NoError(t, reg.RevokeKey(ctx, "w1", "k1"))

	items, err := reg.ListKeys(ctx, "w1")
	require.NoError(t, err)
	require.Len(t, items, 2)

	byKid := map[string]KeyItem{}
	for _, item := range items {
		byKid[item.Kid] = item
	}
	assert.Equal(t, "revoked", byKid["k1"].Status)
	assert.Equal(t, "active", byKid["k2"].Status)
}
