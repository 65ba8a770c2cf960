package authz

import (
	"context"
	"crypto/rand"
	"database/sql"
	_ "embed"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/loglineos/ledger/internal/ledger"
	"github.com/loglineos/ledger/internal/secret"
	"github.com/loglineos/ledger/internal/span"
)

//go:embed schema.sql
var schemaSQL string

// SecretPrefix marks every issued bearer secret. Validation rejects
// anything without it before doing any hashing work.
const SecretPrefix = "tok_live_"

// DefaultTokenTTL applies when Issue is called without an explicit
// expiry.
const DefaultTokenTTL = 90 * 24 * time.Hour

const secretEntropy = 24 // random bytes behind the prefix

// ErrTokenNotFound means no token row matches the presented secret.
var ErrTokenNotFound = errors.New("authz: token not found")

// Authorizer issues tokens and validates bearer requests. All issuance
// and validation outcomes are recorded on the ledger under the
// authorizer's own identity.
type Authorizer struct {
	db        *sql.DB
	ledger    *ledger.Store
	secrets   secret.Store
	pepperRef string
	cache     *decisionCache

	// TokenTTL is applied by Issue when the request carries no expiry.
	TokenTTL time.Duration

	Now func() time.Time
}

// New prepares the token schema on the ledger database and returns an
// authorizer whose audit spans land in the given store. pepperRef names
// the deployment pepper inside the secret store.
func New(store *ledger.Store, secrets secret.Store, pepperRef string, cacheTTL time.Duration) (*Authorizer, error) {
	db := store.DB()
	if _, err := db.Exec(schemaSQL); err != nil {
		return nil, fmt.Errorf("authz: apply schema: %w", err)
	}
	return &Authorizer{
		db:        db,
		ledger:    store,
		secrets:   secrets,
		pepperRef: pepperRef,
		cache:     newDecisionCache(cacheTTL),
		TokenTTL:  DefaultTokenTTL,
		Now:       time.Now,
	}, nil
}

// IssueRequest describes a token to mint.
type IssueRequest struct {
	WalletID    string
	TenantID    string
	Scopes      []string
	TTL         time.Duration // zero means Authorizer.TokenTTL
	Description string
	CreatedBy   string
}

// Issued is the one-time result of minting a token. Secret is the only
// copy that will ever exist; callers must hand it to the holder and
// drop it.
type Issued struct {
	Secret      string `json:"secret"`
	HashPreview string `json:"hash_preview"`
	WalletID    string `json:"wallet_id"`
	TenantID    string `json:"tenant_id"`
	ExpiresAt   int64  `json:"expires_at"`
}

// Issue mints a bearer token for a wallet, persists its hash, and
// records an api_token_issued span.
func (a *Authorizer) Issue(ctx context.Context, req IssueRequest) (Issued, error) {
	if req.WalletID == "" || req.TenantID == "" {
		return Issued{}, &ledger.ValidationError{Field: "wallet_id", Message: "wallet_id and tenant_id are required"}
	}

	pepper, err := a.pepper(ctx)
	if err != nil {
		return Issued{}, err
	}

	raw := make([]byte, secretEntropy)
	if _, err := rand.Read(raw); err != nil {
		return Issued{}, fmt.Errorf("authz: entropy: %w", err)
	}
	plain := SecretPrefix + base64.RawURLEncoding.EncodeToString(raw)
	hash := tokenHash(pepper, plain)

	ttl := req.TTL
	if ttl <= 0 {
		ttl = a.TokenTTL
	}
	now := a.Now().UTC()
	exp := now.Add(ttl).Unix()

	scopes, err := json.Marshal(nonNil(req.Scopes))
	if err != nil {
		return Issued{}, fmt.Errorf("authz: encode scopes: %w", err)
	}

	_, err = a.db.ExecContext(ctx, `
		INSERT INTO tokens (token_hash, wallet_id, tenant_id, scopes, status, exp, description, created_by, created_at)
		VALUES (?, ?, ?, ?, 'active', ?, ?, ?, ?)
	`, hash, req.WalletID, req.TenantID, string(scopes), exp, req.Description, req.CreatedBy, now.Format(time.RFC3339Nano))
	if err != nil {
		return Issued{}, fmt.Errorf("authz: insert token: %w", err)
	}

	sess := a.ledger.Bind("edge:authorizer", req.TenantID)
	_, err = sess.Append(ctx, span.Span{
		EntityType: span.TypeTokenIssued,
		Who:        issuerIdentity(req.CreatedBy),
		Did:        "issued",
		This:       "auth.token",
		Visibility: span.VisibilityTenant,
		Metadata: map[string]any{
			"wallet_id":    req.WalletID,
			"hash_preview": hashPreview(hash),
			"scopes":       nonNil(req.Scopes),
			"expires_at":   exp,
			"description":  req.Description,
		},
	}, 0)
	if err != nil {
		return Issued{}, fmt.Errorf("authz: record issuance: %w", err)
	}

	return Issued{
		Secret:      plain,
		HashPreview: hashPreview(hash),
		WalletID:    req.WalletID,
		TenantID:    req.TenantID,
		ExpiresAt:   exp,
	}, nil
}

// Revoke marks every token of a wallet revoked and evicts nothing from
// the cache by hash (the hashes are unknown here); cached permits decay
// within the cache TTL.
func (a *Authorizer) Revoke(ctx context.Context, walletID string) (int64, error) {
	res, err := a.db.ExecContext(ctx, `
		UPDATE tokens SET status = 'revoked' WHERE wallet_id = ? AND status = 'active'
	`, walletID)
	if err != nil {
		return 0, fmt.Errorf("authz: revoke wallet %s: %w", walletID, err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// RevokeHash revokes a single token by its full hash and drops it from
// the decision cache immediately.
func (a *Authorizer) RevokeHash(ctx context.Context, hash string) error {
	res, err := a.db.ExecContext(ctx, `
		UPDATE tokens SET status = 'revoked' WHERE token_hash = ? AND status = 'active'
	`, hash)
	if err != nil {
		return fmt.Errorf("authz: revoke token: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrTokenNotFound
	}
	a.cache.drop(hash)
	return nil
}

// Rotate revokes all active tokens of a wallet and issues a fresh one
// with the same scope set the caller passes in.
func (a *Authorizer) Rotate(ctx context.Context, req IssueRequest) (Issued, error) {
	if _, err := a.Revoke(ctx, req.WalletID); err != nil {
		return Issued{}, err
	}
	return a.Issue(ctx, req)
}

// TokenInfo is a listing row. The full hash never leaves the package.
type TokenInfo struct {
	HashPreview string   `json:"hash_preview"`
	WalletID    string   `json:"wallet_id"`
	TenantID    string   `json:"tenant_id"`
	Scopes      []string `json:"scopes"`
	Status      string   `json:"status"`
	ExpiresAt   int64    `json:"expires_at"`
	Description string   `json:"description"`
	CreatedAt   string   `json:"created_at"`
}

// List returns the tokens of a wallet, newest first.
func (a *Authorizer) List(ctx context.Context, walletID string) ([]TokenInfo, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT token_hash, wallet_id, tenant_id, scopes, status, exp, description, created_at
		FROM tokens WHERE wallet_id = ?
		ORDER BY created_at DESC
	`, walletID)
	if err != nil {
		return nil, fmt.Errorf("authz: list tokens: %w", err)
	}
	defer rows.Close()

	out := []TokenInfo{}
	for rows.Next() {
		var rec tokenRecord
		var hash string
		if err := rows.Scan(&hash, &rec.WalletID, &rec.TenantID, &rec.rawScopes, &rec.Status, &rec.Exp, &rec.Description, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("authz: scan token: %w", err)
		}
		if err := rec.decodeScopes(); err != nil {
			return nil, err
		}
		out = append(out, TokenInfo{
			HashPreview: hashPreview(hash),
			WalletID:    rec.WalletID,
			TenantID:    rec.TenantID,
			Scopes:      rec.Scopes,
			Status:      rec.Status,
			ExpiresAt:   rec.Exp,
			Description: rec.Description,
			CreatedAt:   rec.CreatedAt,
		})
	}
	return out, rows.Err()
}

// tokenRecord is the stored shape of a token row.
type tokenRecord struct {
	WalletID    string
	TenantID    string
	Scopes      []string
	Status      string
	Exp         int64
	Description string
	CreatedAt   string

	rawScopes string
}

func (r *tokenRecord) decodeScopes() error {
	if r.rawScopes == "" {
		r.Scopes = []string{}
		return nil
	}
	if err := json.Unmarshal([]byte(r.rawScopes), &r.Scopes); err != nil {
		return fmt.Errorf("authz: decode scopes: %w", err)
	}
	if r.Scopes == nil {
		r.Scopes = []string{}
	}
	return nil
}

func (a *Authorizer) lookup(ctx context.Context, hash string) (tokenRecord, error) {
	var rec tokenRecord
	err := a.db.QueryRowContext(ctx, `
		SELECT wallet_id, tenant_id, scopes, status, exp, description, created_at
		FROM tokens WHERE token_hash = ?
	`, hash).Scan(&rec.WalletID, &rec.TenantID, &rec.rawScopes, &rec.Status, &rec.Exp, &rec.Description, &rec.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return tokenRecord{}, ErrTokenNotFound
	}
	if err != nil {
		return tokenRecord{}, fmt.Errorf("authz: lookup token: %w", err)
	}
	if err := rec.decodeScopes(); err != nil {
		return tokenRecord{}, err
	}
	return rec, nil
}

func (a *Authorizer) pepper(ctx context.Context) ([]byte, error) {
	pepper, err := a.secrets.Get(ctx, a.pepperRef)
	if err != nil {
		return nil, fmt.Errorf("authz: fetch pepper: %w", err)
	}
	return pepper, nil
}

func issuerIdentity(createdBy string) string {
	if createdBy == "" {
		return "edge:authorizer"
	}
	return createdBy
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
