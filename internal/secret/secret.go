// Package secret abstracts the opaque key/value store holding private
// keys, provider credentials, and the token pepper. Implementations are
// external collaborators; the wallet and authorizer only ever see this
// interface and fetch material fresh per operation.
package secret

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// ErrNotFound means no secret exists under the requested reference.
var ErrNotFound = errors.New("secret: not found")

// Store is the minimal contract: opaque bytes by reference.
type Store interface {
	Get(ctx context.Context, ref string) ([]byte, error)
	Put(ctx context.Context, ref string, value []byte) error
}

// Mem is an in-memory Store for tests and development. It counts Get
// calls per reference so tests can assert that denied operations never
// touched the secret material.
type Mem struct {
	mu      sync.Mutex
	values  map[string][]byte
	fetches map[string]int
}

// NewMem returns an empty in-memory store.
func NewMem() *Mem {
	return &Mem{
		values:  make(map[string][]byte),
		fetches: make(map[string]int),
	}
}

// Get returns a copy of the stored value and increments the fetch
// counter for ref.
func (m *Mem) Get(_ context.Context, ref string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.fetches[ref]++
	value, ok := m.values[ref]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
	out := make([]byte, len(value))
	copy(out, value)
	return out, nil
}

// Put stores a copy of value under ref.
func (m *Mem) Put(_ context.Context, ref string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := make([]byte, len(value))
	copy(stored, value)
	m.values[ref] = stored
	return nil
}

// Fetches reports how many times ref has been fetched.
func (m *Mem) Fetches(ref string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fetches[ref]
}

// Dir is a file-backed Store: one file per reference under a root
// directory, written 0600. References are slash-separated names; path
// traversal is rejected.
type Dir struct {
	root string
}

// NewDir creates the root directory if needed and returns a file-backed
// store rooted there.
func NewDir(root string) (*Dir, error) {
	if err := os.MkdirAll(root, 0o700); err != nil {
		return nil, fmt.Errorf("secret: create root: %w", err)
	}
	return &Dir{root: root}, nil
}

func (d *Dir) path(ref string) (string, error) {
	if ref == "" || strings.Contains(ref, "..") || filepath.IsAbs(ref) {
		return "", fmt.Errorf("secret: invalid reference %q", ref)
	}
	return filepath.Join(d.root, filepath.FromSlash(ref)), nil
}

func (d *Dir) Get(_ context.Context, ref string) ([]byte, error) {
	path, err := d.path(ref)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
	if err != nil {
		return nil, fmt.Errorf("secret: read %s: %w", ref, err)
	}
	return data, nil
}

func (d *Dir) Put(_ context.Context, ref string, value []byte) error {
	path, err := d.path(ref)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("secret: create dir for %s: %w", ref, err)
	}
	if err := os.WriteFile(path, value, 0o600); err != nil {
		return fmt.Errorf("secret: write %s: %w", ref, err)
	}
	return nil
}
