package seed

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/loglineos/ledger/internal/ledger"
	"github.com/loglineos/ledger/internal/span"
	"github.com/loglineos/ledger/internal/wallet"
)

const seedCUE = `
kernel: hello: {
	id:          "fn-hello"
	runtime:     "greeter"
	description: "smoke-test kernel"
}
kernel: note: {
	id:      "fn-note"
	runtime: "writer"
}
manifest: allowed_boot_ids: ["fn-hello", "fn-note"]
wallet: w1: {
	owner:  "user:ana"
	tenant: "voulezvous"
}
`

func writeSeed(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "seed.cue"), []byte(content), 0o644))
	return dir
}

func TestLoad(t *testing.T) {
	defs, err := Load(writeSeed(t, seedCUE))
	require.NoError(t, err)
	require.Len(t, defs.Kernels, 2)
	require.Equal(t, []string{"fn-hello", "fn-note"}, defs.AllowedBootIDs)
	require.Len(t, defs.Wallets, 1)
	require.Equal(t, "w1", defs.Wallets[0].ID)

	byName := map[string]Kernel{}
	for _, k := range defs.Kernels {
		byName[k.Name] = k
	}
	require.Equal(t, "fn-hello", byName["hello"].ID)
	require.Equal(t, "greeter", byName["hello"].Runtime)
	require.Equal(t, "writer", byName["note"].Runtime)
}

func TestLoadRejectsIncompleteKernel(t *testing.T) {
	_, err := Load(writeSeed(t, `kernel: broken: {description: "no id"}`))
	require.Error(t, err)
	require.Contains(t, err.Error(), "id and runtime are required")
}

func TestLoadRejectsEmptySeed(t *testing.T) {
	_, err := Load(writeSeed(t, `other: true`))
	require.Error(t, err)
}

func TestApply(t *testing.T) {
	ctx := context.Background()

	defs, err := Load(writeSeed(t, seedCUE))
	require.NoError(t, err)

	store, err := ledger.Open(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	reg, err := wallet.NewRegistry(store.DB())
	require.NoError(t, err)

	sess := store.Bind("seed", "voulezvous")
	sum, err := Apply(ctx, defs, sess, reg)
	require.NoError(t, err)
	require.Equal(t, 2, sum.Functions)
	require.True(t, sum.Manifest)
	require.Equal(t, 1, sum.Wallets)

	fn, err := sess.Project(ctx, "fn-hello")
	require.NoError(t, err)
	require.Equal(t, span.TypeFunction, fn.EntityType)
	require.Equal(t, "greeter", fn.Metadata["runtime"])

	manifest, err := sess.LatestManifest(ctx)
	require.NoError(t, err)
	require.Len(t, manifest.Metadata["allowed_boot_ids"], 2)

	_, tenantID, status, err := reg.Wallet(ctx, "w1")
	require.NoError(t, err)
	require.Equal(t, "voulezvous", tenantID)
	require.Equal(t, "active", status)

	// Reapplying is idempotent for wallets; function spans append a new
	// seq rather than failing.
	_, err = Apply(ctx, defs, sess, reg)
	require.NoError(t, err)
}