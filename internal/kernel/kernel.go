package kernel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/loglineos/ledger/internal/authz"
	"github.com/loglineos/ledger/internal/ledger"
	"github.com/loglineos/ledger/internal/span"
)

// State names a point in the boot state machine.
type State string

const (
	StateReceived         State = "Received"
	StateManifestChecked  State = "ManifestChecked"
	StateFunctionResolved State = "FunctionResolved"
	StateScopeAuthorized  State = "ScopeAuthorized"
	StateSigVerified      State = "SignatureVerified"
	StateBootEmitted      State = "BootEventEmitted"
	StateExecuted         State = "Executed"
	StateDenied           State = "Denied"
	StateError            State = "Error"
)

// Deny reasons for the boot path.
const (
	DenyNotInManifest     = "not_in_manifest"
	DenyFunctionNotFound  = "function_not_found"
	DenyInsufficientScope = "insufficient_scope"
	DenyIntegrityError    = "integrity_error"
)

// ReasonRuntimeMissing marks the Error outcome for a function span
// whose runtime tag has no registered runtime. This is an operational
// gap, not a policy decision, so it never surfaces as Denied.
const ReasonRuntimeMissing = "runtime_missing"

// metadata key naming the runtime a function span executes under
const runtimeKey = "runtime"

// Request asks the kernel to boot one function span.
type Request struct {
	BootID string
	Input  map[string]any

	// Caller identifies who asked, for audit spans.
	Caller string

	// Scopes is the caller's granted scope set. A nil slice means the
	// call arrived without an authorization context (local tooling) and
	// the scope gate is skipped; an empty non-nil slice means an
	// authorized caller with no grants, which is denied.
	Scopes []string
}

// Result is the terminal outcome of a boot.
type Result struct {
	State      State          `json:"state"`
	OK         bool           `json:"ok"`
	Reason     string         `json:"reason,omitempty"`
	SpanID     string         `json:"span_id,omitempty"`
	Output     map[string]any `json:"output,omitempty"`
	Error      string         `json:"error,omitempty"`
	DurationMS int64          `json:"duration_ms"`
}

// Kernel runs the boot state machine against a ledger session.
type Kernel struct {
	registry *Registry
	Now      func() time.Time
}

// New returns a kernel executing through the given runtime registry.
func New(registry *Registry) *Kernel {
	return &Kernel{registry: registry, Now: time.Now}
}

// Boot walks the state machine for one request. Deny outcomes are
// values, not errors; an error return means infrastructure failed
// before a terminal state was reached.
func (k *Kernel) Boot(ctx context.Context, sess *ledger.Session, req Request) (Result, error) {
	// Received -> ManifestChecked. No manifest means nothing is
	// bootable.
	manifest, err := sess.LatestManifest(ctx)
	if errors.Is(err, ledger.ErrNotFound) {
		return Result{State: StateDenied, Reason: DenyNotInManifest}, nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("kernel: load manifest: %w", err)
	}
	if !manifestAllows(manifest, req.BootID) {
		return Result{State: StateDenied, Reason: DenyNotInManifest}, nil
	}

	// ManifestChecked -> FunctionResolved.
	fn, err := sess.Project(ctx, req.BootID)
	if errors.Is(err, ledger.ErrNotFound) {
		return Result{State: StateDenied, Reason: DenyFunctionNotFound}, nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("kernel: resolve function %s: %w", req.BootID, err)
	}
	if fn.EntityType != span.TypeFunction {
		return Result{State: StateDenied, Reason: DenyFunctionNotFound}, nil
	}

	// FunctionResolved -> ScopeAuthorized. The decision span is written
	// for both outcomes before the outcome takes effect.
	if req.Scopes != nil {
		required := fmt.Sprintf("kernel:%s:invoke", functionName(fn))
		allowed := authz.ScopesAllow(req.Scopes, required)
		if err := k.recordScopeDecision(ctx, sess, req, required, allowed); err != nil {
			return Result{}, err
		}
		if !allowed {
			return Result{State: StateDenied, Reason: DenyInsufficientScope}, nil
		}
	}

	// ScopeAuthorized -> SignatureVerified. Unsigned functions pass;
	// a present signature that fails to verify is fatal.
	if fn.Signed() {
		if err := span.Verify(fn); err != nil {
			return Result{State: StateDenied, Reason: DenyIntegrityError, Error: err.Error()}, nil
		}
	}

	rt, err := k.registry.Resolve(runtimeTag(fn))
	if err != nil {
		return Result{State: StateError, Reason: ReasonRuntimeMissing, Error: err.Error()}, nil
	}

	// SignatureVerified -> BootEventEmitted. Durable before execution.
	bootEvent, err := sess.Append(ctx, span.Span{
		EntityType: span.TypeBootEvent,
		Who:        req.Caller,
		Did:        "booted",
		This:       "kernel." + functionName(fn),
		Visibility: span.VisibilityTenant,
		Metadata: map[string]any{
			"boot_id": req.BootID,
			"caller":  req.Caller,
			"at":      k.Now().UTC().Format(time.RFC3339Nano),
		},
	}, 0)
	if err != nil {
		return Result{}, fmt.Errorf("kernel: emit boot event: %w", err)
	}

	// BootEventEmitted -> Executed.
	caps := defaultCapabilities(req.Input, k.Now)
	caps.Append = func(ctx context.Context, s span.Span) (span.Span, error) {
		return sess.Append(ctx, s, 0)
	}

	start := k.Now()
	output, execErr := execute(ctx, rt, caps)
	duration := k.Now().Sub(start).Milliseconds()

	exec := span.Span{
		EntityType: span.TypeExecution,
		Who:        req.Caller,
		Did:        "executed",
		This:       "kernel." + functionName(fn),
		ParentID:   fn.ID,
		RelatedTo:  []string{bootEvent.ID},
		Visibility: span.VisibilityTenant,
		Input:      req.Input,
		DurationMS: duration,
	}
	if execErr != nil {
		exec.Status = "error"
		exec.Error = map[string]any{"message": execErr.Error()}
	} else {
		exec.Status = "complete"
		exec.Output = output
	}

	exec, err = sess.Append(ctx, exec, 0)
	if err != nil {
		return Result{}, fmt.Errorf("kernel: record execution: %w", err)
	}

	res := Result{State: StateExecuted, SpanID: exec.ID, DurationMS: duration}
	if execErr != nil {
		res.State = StateError
		res.Error = execErr.Error()
	} else {
		res.OK = true
		res.Output = output
	}
	return res, nil
}

// execute runs the runtime, converting a panic into a structured error
// so one misbehaving function cannot take the process down.
func execute(ctx context.Context, rt Runtime, caps Capabilities) (output map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			output, err = nil, fmt.Errorf("kernel: runtime panic: %v", r)
		}
	}()
	return rt.Execute(ctx, caps)
}

func (k *Kernel) recordScopeDecision(ctx context.Context, sess *ledger.Session, req Request, required string, allowed bool) error {
	effect := authz.EffectDeny
	if allowed {
		effect = authz.EffectPermit
	}
	meta := map[string]any{
		"effect":         effect,
		"required_scope": required,
		"boot_id":        req.BootID,
	}
	if !allowed {
		meta["reason"] = DenyInsufficientScope
	}
	_, err := sess.Append(ctx, span.Span{
		EntityType: span.TypeAuthDecision,
		Who:        req.Caller,
		Did:        effect,
		This:       "kernel.boot",
		Visibility: span.VisibilityTenant,
		Metadata:   meta,
	}, 0)
	if err != nil {
		return fmt.Errorf("kernel: record scope decision: %w", err)
	}
	return nil
}

func manifestAllows(manifest span.Span, bootID string) bool {
	allowed, ok := manifest.Metadata["allowed_boot_ids"]
	if !ok {
		return false
	}
	switch ids := allowed.(type) {
	case []any:
		for _, id := range ids {
			if s, ok := id.(string); ok && s == bootID {
				return true
			}
		}
	case []string:
		for _, id := range ids {
			if id == bootID {
				return true
			}
		}
	}
	return false
}

func functionName(fn span.Span) string {
	if fn.Name != "" {
		return fn.Name
	}
	return fn.ID
}

func runtimeTag(fn span.Span) string {
	if tag, ok := fn.Metadata[runtimeKey].(string); ok && tag != "" {
		return tag
	}
	return ""
}
