package span

import "time"

// Visibility controls which callers can see a span row.
type Visibility string

const (
	// VisibilityPrivate restricts the row to its owner.
	VisibilityPrivate Visibility = "private"

	// VisibilityTenant restricts the row to the owning tenant.
	VisibilityTenant Visibility = "tenant"

	// VisibilityPublic makes the row visible to every caller.
	VisibilityPublic Visibility = "public"
)

// Well-known entity types. The set is open: callers may append spans with
// their own discriminators, these are the ones the system itself emits or
// interprets.
const (
	TypeFunction      = "function"
	TypeExecution     = "execution"
	TypeBootEvent     = "boot_event"
	TypeAuthDecision  = "auth.decision"
	TypeTokenIssued   = "api_token_issued"
	TypeManifest      = "manifest"
	TypeWalletOpened  = "wallet_opened"
	TypeMemory        = "memory"
)

// Signature is the detached signature block attached to a signed span.
// It is excluded from the canonical form: signing covers everything else.
type Signature struct {
	// Alg identifies the scheme. The only value currently produced is
	// "ed25519-blake3-v1".
	Alg string `json:"alg"`

	// KeyID is the DID-style identifier of the signing key:
	// "did:logline:" + hex(BLAKE3(public key hex)).
	KeyID string `json:"key_id"`

	// Kid is the wallet-local name of the key item that signed.
	Kid string `json:"kid,omitempty"`

	// PublicKey is the hex-encoded Ed25519 public key, embedded so a
	// verifier needs no key directory.
	PublicKey string `json:"public_key,omitempty"`

	// TS is the signing time in Unix milliseconds.
	TS int64 `json:"ts"`

	// Nonce is a single-use random value preventing replay of the
	// signed payload within the anti-replay window.
	Nonce string `json:"nonce"`

	// Sig is the hex-encoded Ed25519 signature bytes.
	Sig string `json:"signature"`
}

// Span is one immutable fact record. All payload fields (Content,
// Metadata, Input, Output, Error) are opaque structured values; the
// ledger stores them as canonical JSON text.
type Span struct {
	ID         string     `json:"id"`
	Seq        int64      `json:"seq"`
	EntityType string     `json:"entity_type"`
	Who        string     `json:"who"`
	Did        string     `json:"did"`
	This       string     `json:"this"`
	At         time.Time  `json:"at"`
	Status     string     `json:"status"`
	Name       string     `json:"name,omitempty"`
	OwnerID    string     `json:"owner_id,omitempty"`
	TenantID   string     `json:"tenant_id,omitempty"`
	Visibility Visibility `json:"visibility,omitempty"`

	Content  map[string]any `json:"content,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Input    map[string]any `json:"input,omitempty"`
	Output   map[string]any `json:"output,omitempty"`
	Error    map[string]any `json:"error,omitempty"`

	DurationMS int64  `json:"duration_ms,omitempty"`
	TraceID    string `json:"trace_id,omitempty"`

	// CurrHash is the BLAKE3 hash of the span's canonical form,
	// "b3:"-prefixed. Recomputing it must reproduce the stored value
	// for the span to be trusted.
	CurrHash string `json:"curr_hash,omitempty"`

	// Sig is the detached signature block, or nil for unsigned spans.
	Sig *Signature `json:"sig,omitempty"`

	ParentID  string   `json:"parent_id,omitempty"`
	RelatedTo []string `json:"related_to,omitempty"`
}

// Signed reports whether the span carries cryptographic fields. A span
// with neither hash nor signature is unsigned and is not subject to
// integrity verification.
func (s *Span) Signed() bool {
	return s.CurrHash != "" || s.Sig != nil
}
