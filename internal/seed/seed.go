// Package seed loads bootstrap definitions from CUE files and applies
// them to a fresh ledger: the kernel catalogue as function spans, the
// boot manifest, and the wallets those kernels run under.
//
// A seed directory holds plain CUE like:
//
//	kernel: hello: {
//		id:          "fn-hello"
//		runtime:     "greeter"
//		description: "smoke-test kernel"
//	}
//	manifest: allowed_boot_ids: ["fn-hello"]
//	wallet: w1: {owner: "user:ana", tenant: "voulezvous"}
package seed

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"

	"github.com/loglineos/ledger/internal/ledger"
	"github.com/loglineos/ledger/internal/span"
	"github.com/loglineos/ledger/internal/wallet"
)

// Kernel is one bootable function definition.
type Kernel struct {
	Name        string `json:"-"`
	ID          string `json:"id"`
	Runtime     string `json:"runtime"`
	Description string `json:"description"`
}

// Wallet is a custody wallet to ensure at seed time.
type Wallet struct {
	ID     string `json:"-"`
	Owner  string `json:"owner"`
	Tenant string `json:"tenant"`
}

// Definitions is the decoded content of a seed directory.
type Definitions struct {
	Kernels        []Kernel
	AllowedBootIDs []string
	Wallets        []Wallet
}

// Load reads every .cue file under dir as one CUE instance and decodes
// the seed definitions from it.
func Load(dir string) (*Definitions, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("seed: stat %s: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("seed: not a directory: %s", dir)
	}
	files, err := findCUEFiles(dir)
	if err != nil {
		return nil, fmt.Errorf("seed: scan %s: %w", dir, err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("seed: no CUE files in %s", dir)
	}

	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, fmt.Errorf("seed: no CUE instances in %s", dir)
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, fmt.Errorf("seed: load CUE: %w", inst.Err)
	}

	value := cuecontext.New().BuildInstance(inst)
	if err := value.Err(); err != nil {
		return nil, fmt.Errorf("seed: build CUE value: %w", err)
	}
	return decode(value)
}

func decode(value cue.Value) (*Definitions, error) {
	defs := &Definitions{}

	kernels := value.LookupPath(cue.ParsePath("kernel"))
	if kernels.Exists() {
		iter, err := kernels.Fields()
		if err != nil {
			return nil, fmt.Errorf("seed: iterate kernels: %w", err)
		}
		for iter.Next() {
			var k Kernel
			if err := iter.Value().Decode(&k); err != nil {
				return nil, fmt.Errorf("seed: kernel %s: %w", iter.Label(), err)
			}
			k.Name = iter.Label()
			if k.ID == "" || k.Runtime == "" {
				return nil, fmt.Errorf("seed: kernel %s: id and runtime are required", k.Name)
			}
			defs.Kernels = append(defs.Kernels, k)
		}
	}

	manifest := value.LookupPath(cue.ParsePath("manifest.allowed_boot_ids"))
	if manifest.Exists() {
		if err := manifest.Decode(&defs.AllowedBootIDs); err != nil {
			return nil, fmt.Errorf("seed: manifest.allowed_boot_ids: %w", err)
		}
	}

	wallets := value.LookupPath(cue.ParsePath("wallet"))
	if wallets.Exists() {
		iter, err := wallets.Fields()
		if err != nil {
			return nil, fmt.Errorf("seed: iterate wallets: %w", err)
		}
		for iter.Next() {
			var w Wallet
			if err := iter.Value().Decode(&w); err != nil {
				return nil, fmt.Errorf("seed: wallet %s: %w", iter.Label(), err)
			}
			w.ID = iter.Label()
			if w.Owner == "" || w.Tenant == "" {
				return nil, fmt.Errorf("seed: wallet %s: owner and tenant are required", w.ID)
			}
			defs.Wallets = append(defs.Wallets, w)
		}
	}

	if len(defs.Kernels) == 0 && len(defs.AllowedBootIDs) == 0 && len(defs.Wallets) == 0 {
		return nil, fmt.Errorf("seed: no kernel, manifest, or wallet definitions found")
	}
	return defs, nil
}

// Summary reports what Apply wrote.
type Summary struct {
	Functions int
	Manifest  bool
	Wallets   int
}

// Apply writes the definitions through a ledger session and the wallet
// registry. Function spans are appended per kernel, then one manifest
// span gating them; wallets are created idempotently.
func Apply(ctx context.Context, defs *Definitions, sess *ledger.Session, reg *wallet.Registry) (Summary, error) {
	var sum Summary

	for _, k := range defs.Kernels {
		_, err := sess.Append(ctx, span.Span{
			ID:         k.ID,
			EntityType: span.TypeFunction,
			Who:        "seed",
			Did:        "registered",
			This:       "kernel.function",
			Name:       k.Name,
			Visibility: span.VisibilityTenant,
			Metadata: map[string]any{
				"runtime":     k.Runtime,
				"description": k.Description,
			},
		}, 0)
		if err != nil {
			return sum, fmt.Errorf("seed: register kernel %s: %w", k.Name, err)
		}
		sum.Functions++
	}

	if len(defs.AllowedBootIDs) > 0 {
		_, err := sess.Append(ctx, span.Span{
			EntityType: span.TypeManifest,
			Who:        "seed",
			Did:        "published",
			This:       "kernel.manifest",
			Visibility: span.VisibilityTenant,
			Metadata:   map[string]any{"allowed_boot_ids": defs.AllowedBootIDs},
		}, 0)
		if err != nil {
			return sum, fmt.Errorf("seed: publish manifest: %w", err)
		}
		sum.Manifest = true
	}

	for _, w := range defs.Wallets {
		if err := reg.EnsureWallet(ctx, w.ID, w.Owner, w.Tenant); err != nil {
			return sum, fmt.Errorf("seed: ensure wallet %s: %w", w.ID, err)
		}
		sum.Wallets++
	}
	return sum, nil
}

func findCUEFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && filepath.Ext(path) == ".cue" {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}
