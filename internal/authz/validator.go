package authz

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/loglineos/ledger/internal/span"
)

// Decision effects.
const (
	EffectPermit = "permit"
	EffectDeny   = "deny"
)

// Deny reasons, stable strings that reach audit spans and clients.
const (
	ReasonMissingToken      = "missing_token"
	ReasonTokenNotFound     = "token_not_found"
	ReasonTokenInactive     = "token_inactive"
	ReasonTokenExpired      = "token_expired"
	ReasonInsufficientScope = "insufficient_scope"
)

// Decision is the outcome of validating one request. CacheKey is the
// token hash, usable by callers as a throttling identity.
type Decision struct {
	Effect   string   `json:"effect"`
	Reason   string   `json:"reason,omitempty"`
	WalletID string   `json:"wallet_id,omitempty"`
	TenantID string   `json:"tenant_id,omitempty"`
	Scopes   []string `json:"scopes,omitempty"`
	CacheKey string   `json:"-"`
}

// Permitted reports whether the decision allows the request.
func (d Decision) Permitted() bool { return d.Effect == EffectPermit }

// Validate checks a presented bearer secret against the route it wants
// to reach. The decision, permit or deny, is appended to the ledger as
// an auth.decision span before it is returned; if the audit write
// fails, validation fails with it rather than answering unrecorded.
func (a *Authorizer) Validate(ctx context.Context, bearer, method, path string) (Decision, error) {
	required := RouteScope(method, path)

	bearer = strings.TrimSpace(bearer)
	if bearer == "" || !strings.HasPrefix(bearer, SecretPrefix) {
		return a.record(ctx, Decision{Effect: EffectDeny, Reason: ReasonMissingToken}, method, path, required)
	}

	pepper, err := a.pepper(ctx)
	if err != nil {
		return Decision{}, err
	}
	hash := tokenHash(pepper, bearer)

	rec, ok := a.cache.get(hash)
	if !ok {
		rec, err = a.lookup(ctx, hash)
		if errors.Is(err, ErrTokenNotFound) {
			return a.record(ctx, Decision{Effect: EffectDeny, Reason: ReasonTokenNotFound, CacheKey: hash}, method, path, required)
		}
		if err != nil {
			return Decision{}, err
		}
		a.cache.put(hash, rec)
	}

	d := Decision{
		WalletID: rec.WalletID,
		TenantID: rec.TenantID,
		Scopes:   rec.Scopes,
		CacheKey: hash,
	}

	switch {
	case rec.Status != "active":
		d.Effect, d.Reason = EffectDeny, ReasonTokenInactive
	case rec.Exp != 0 && a.Now().Unix() > rec.Exp:
		d.Effect, d.Reason = EffectDeny, ReasonTokenExpired
	case !ScopesAllow(rec.Scopes, required):
		d.Effect, d.Reason = EffectDeny, ReasonInsufficientScope
	default:
		d.Effect = EffectPermit
	}

	return a.record(ctx, d, method, path, required)
}

// record writes the auth.decision span and passes the decision through.
// Denials without a resolved tenant land under the system tenant so
// probing with unknown tokens still leaves a trace.
func (a *Authorizer) record(ctx context.Context, d Decision, method, path, required string) (Decision, error) {
	tenant := d.TenantID
	if tenant == "" {
		tenant = "system"
	}

	meta := map[string]any{
		"effect": d.Effect,
		"method": method,
		"path":   path,
	}
	if required != "" {
		meta["required_scope"] = required
	}
	if d.Reason != "" {
		meta["reason"] = d.Reason
	}
	if d.WalletID != "" {
		meta["wallet_id"] = d.WalletID
	}
	if d.CacheKey != "" {
		meta["hash_preview"] = hashPreview(d.CacheKey)
	}

	sess := a.ledger.Bind("edge:authorizer", tenant)
	_, err := sess.Append(ctx, span.Span{
		EntityType: span.TypeAuthDecision,
		Who:        "edge:authorizer",
		Did:        d.Effect,
		This:       "auth.request",
		Visibility: span.VisibilityTenant,
		Metadata:   meta,
	}, 0)
	if err != nil {
		return Decision{}, fmt.Errorf("authz: record decision: %w", err)
	}
	return d, nil
}
