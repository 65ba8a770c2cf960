package kernel

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/loglineos/ledger/internal/span"
)

// Capabilities is everything an executing function may touch. The
// append handle is bound to the booting caller's session, so functions
// cannot write outside the caller's tenant.
type Capabilities struct {
	// Input is the request payload passed to the boot call.
	Input map[string]any

	// Append writes a span through the caller's ledger session.
	Append func(ctx context.Context, s span.Span) (span.Span, error)

	// Now is the kernel's time source.
	Now func() time.Time

	// Hash returns the tagged content hash of any canonicalizable value.
	Hash func(v any) (string, error)

	// NewUUID mints identifiers.
	NewUUID func() string
}

// Runtime executes one function span's behavior.
type Runtime interface {
	Execute(ctx context.Context, caps Capabilities) (map[string]any, error)
}

// RuntimeFunc adapts a function to Runtime.
type RuntimeFunc func(ctx context.Context, caps Capabilities) (map[string]any, error)

func (f RuntimeFunc) Execute(ctx context.Context, caps Capabilities) (map[string]any, error) {
	return f(ctx, caps)
}

// Registry maps runtime tags (function span metadata key "runtime") to
// in-process implementations. Registration happens at startup; the
// registry is read-only afterwards.
type Registry struct {
	runtimes map[string]Runtime
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{runtimes: make(map[string]Runtime)}
}

// Register binds a runtime tag. Re-registering a tag replaces it.
func (r *Registry) Register(tag string, rt Runtime) {
	r.runtimes[tag] = rt
}

// Resolve returns the runtime for a tag.
func (r *Registry) Resolve(tag string) (Runtime, error) {
	rt, ok := r.runtimes[tag]
	if !ok {
		return nil, fmt.Errorf("kernel: runtime %q not registered", tag)
	}
	return rt, nil
}

// Tags lists registered runtime tags, sorted.
func (r *Registry) Tags() []string {
	tags := make([]string, 0, len(r.runtimes))
	for tag := range r.runtimes {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

func defaultCapabilities(input map[string]any, now func() time.Time) Capabilities {
	return Capabilities{
		Input: input,
		Now:   now,
		Hash: func(v any) (string, error) {
			canonical, err := span.CanonicalValue(v)
			if err != nil {
				return "", err
			}
			return span.HashBytes(canonical), nil
		},
		NewUUID: uuid.NewString,
	}
}
