package wallet

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// Key item types.
const (
	TypeEd25519     = "ed25519"
	TypeProviderKey = "provider_key"
)

// Capabilities a key item may carry.
const (
	CapSignSpan       = "sign.span"
	CapSignHTTP       = "sign.http"
	CapProviderInvoke = "provider.invoke"
)

// Errors returned by registry operations.
var (
	ErrNotFound         = errors.New("wallet: not found")
	ErrConflict         = errors.New("wallet: already exists")
	ErrPermissionDenied = errors.New("wallet: capability missing")
	ErrReplay           = errors.New("wallet: nonce already used")
)

// KeyItem is one named key or credential inside a wallet.
type KeyItem struct {
	WalletID     string   `json:"wallet_id"`
	Kid          string   `json:"kid"`
	Type         string   `json:"type"`
	PublicKey    string   `json:"public_key,omitempty"`
	SecretRef    string   `json:"secret_ref"`
	Capabilities []string `json:"capabilities"`
	Status       string   `json:"status"`
	CreatedAt    string   `json:"created_at"`
}

// HasCapability reports whether the item carries cap.
func (k *KeyItem) HasCapability(cap string) bool {
	for _, c := range k.Capabilities {
		if c == cap {
			return true
		}
	}
	return false
}

// Registry stores wallets and key items in the shared SQLite database.
type Registry struct {
	db *sql.DB

	// Now is the time source for created_at stamps.
	Now func() time.Time
}

// NewRegistry applies the wallet schema on the shared database and
// returns a registry. Idempotent.
func NewRegistry(db *sql.DB) (*Registry, error) {
	if _, err := db.Exec(schemaSQL); err != nil {
		return nil, fmt.Errorf("wallet: apply schema: %w", err)
	}
	return &Registry{db: db, Now: time.Now}, nil
}

// EnsureWallet creates the wallet row if it does not exist.
func (r *Registry) EnsureWallet(ctx context.Context, walletID, ownerID, tenantID string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO wallets (wallet_id, owner_id, tenant_id, status, created_at)
		VALUES (?, ?, ?, 'active', ?)
		ON CONFLICT(wallet_id) DO NOTHING
	`, walletID, ownerID, tenantID, r.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("wallet: ensure %s: %w", walletID, err)
	}
	return nil
}

// Wallet returns the wallet row, or ErrNotFound.
func (r *Registry) Wallet(ctx context.Context, walletID string) (ownerID, tenantID, status string, err error) {
	err = r.db.QueryRowContext(ctx, `
		SELECT owner_id, tenant_id, status FROM wallets WHERE wallet_id = ?
	`, walletID).Scan(&ownerID, &tenantID, &status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", "", "", fmt.Errorf("wallet %s: %w", walletID, ErrNotFound)
	}
	if err != nil {
		return "", "", "", fmt.Errorf("wallet %s: %w", walletID, err)
	}
	return ownerID, tenantID, status, nil
}

// RegisterKey adds a key item. Fails with ErrConflict if the kid is
// already taken in this wallet, including by a revoked item: kids are
// never reused.
func (r *Registry) RegisterKey(ctx context.Context, item KeyItem) error {
	caps, err := json.Marshal(item.Capabilities)
	if err != nil {
		return fmt.Errorf("wallet: marshal capabilities: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO wallet_keys
		(wallet_id, kid, type, public_key, secret_ref, capabilities, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, 'active', ?)
	`, item.WalletID, item.Kid, item.Type, item.PublicKey, item.SecretRef,
		string(caps), r.Now().UTC().Format(time.RFC3339))
	if isUniqueViolation(err) {
		return fmt.Errorf("wallet: register key %s/%s: %w", item.WalletID, item.Kid, ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("wallet: register key %s/%s: %w", item.WalletID, item.Kid, err)
	}
	return nil
}

// RotateKey replaces the secret reference in place, preserving the kid
// and its capability history. The new public key (if any) replaces the
// old one.
func (r *Registry) RotateKey(ctx context.Context, walletID, kid, newSecretRef, newPublicKey string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE wallet_keys SET secret_ref = ?, public_key = ?
		WHERE wallet_id = ? AND kid = ? AND status = 'active'
	`, newSecretRef, newPublicKey, walletID, kid)
	if err != nil {
		return fmt.Errorf("wallet: rotate key %s/%s: %w", walletID, kid, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("wallet: rotate key %s/%s: %w", walletID, kid, err)
	}
	if n == 0 {
		return fmt.Errorf("wallet: rotate key %s/%s: %w", walletID, kid, ErrNotFound)
	}
	return nil
}

// RevokeKey marks the item inactive. Subsequent signing attempts for the
// kid fail with ErrNotFound.
func (r *Registry) RevokeKey(ctx context.Context, walletID, kid string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE wallet_keys SET status = 'revoked'
		WHERE wallet_id = ? AND kid = ? AND status = 'active'
	`, walletID, kid)
	if err != nil {
		return fmt.Errorf("wallet: revoke key %s/%s: %w", walletID, kid, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("wallet: revoke key %s/%s: %w", walletID, kid, err)
	}
	if n == 0 {
		return fmt.Errorf("wallet: revoke key %s/%s: %w", walletID, kid, ErrNotFound)
	}
	return nil
}

// ListKeys returns all key items in a wallet, active and revoked.
// Secret references are included (they are opaque handles, not
// material); callers exposing this over the wire should strip them.
func (r *Registry) ListKeys(ctx context.Context, walletID string) ([]KeyItem, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT wallet_id, kid, type, public_key, secret_ref, capabilities, status, created_at
		FROM wallet_keys WHERE wallet_id = ?
		ORDER BY created_at ASC, kid ASC
	`, walletID)
	if err != nil {
		return nil, fmt.Errorf("wallet: list keys %s: %w", walletID, err)
	}
	defer rows.Close()

	items := []KeyItem{}
	for rows.Next() {
		item, err := scanKeyItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("wallet: iterate keys: %w", err)
	}
	return items, nil
}

// activeKey returns the key item for kid only if both the wallet and the
// item are active. Absent and revoked items both surface as ErrNotFound
// so the caller learns nothing about whether the kid ever existed.
func (r *Registry) activeKey(ctx context.Context, walletID, kid string) (KeyItem, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT k.wallet_id, k.kid, k.type, k.public_key, k.secret_ref,
		       k.capabilities, k.status, k.created_at
		FROM wallet_keys k
		JOIN wallets w ON w.wallet_id = k.wallet_id
		WHERE k.wallet_id = ? AND k.kid = ?
		  AND k.status = 'active' AND w.status = 'active'
	`, walletID, kid)

	item, err := scanKeyItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return KeyItem{}, fmt.Errorf("wallet: key %s/%s: %w", walletID, kid, ErrNotFound)
	}
	if err != nil {
		return KeyItem{}, err
	}
	return item, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanKeyItem(row rowScanner) (KeyItem, error) {
	var item KeyItem
	var caps string
	err := row.Scan(&item.WalletID, &item.Kid, &item.Type, &item.PublicKey,
		&item.SecretRef, &caps, &item.Status, &item.CreatedAt)
	if err != nil {
		return KeyItem{}, err
	}
	if err := json.Unmarshal([]byte(caps), &item.Capabilities); err != nil {
		return KeyItem{}, fmt.Errorf("wallet: unmarshal capabilities: %w", err)
	}
	return item, nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrConstraint
	}
	return false
}
