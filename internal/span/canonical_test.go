package span

import (
	"strings"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
)

func fixtureSpan() Span {
	return Span{
		ID:         "m1",
		Seq:        0,
		EntityType: "memory",
		Who:        "user:ana",
		Did:        "created",
		This:       "memory.note",
		At:         time.Date(2026, 1, 15, 12, 30, 0, 0, time.UTC),
		Status:     "active",
		TenantID:   "voulezvous",
		Visibility: VisibilityTenant,
		Metadata: map[string]any{
			"note":  "hello",
			"count": 2,
		},
	}
}

func TestCanonical_Golden(t *testing.T) {
	data, err := Canonical(fixtureSpan())
	if err != nil {
		t.Fatalf("Canonical() failed: %v", err)
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "canonical_span", data)
}

func TestCanonical_Deterministic(t *testing.T) {
	// Build the same payload twice with different insertion order.
	a := fixtureSpan()
	a.Metadata = map[string]any{}
	a.Metadata["note"] = "hello"
	a.Metadata["count"] = 2
	a.Metadata["tags"] = []any{"x", "y"}

	b := fixtureSpan()
	b.Metadata = map[string]any{}
	b.Metadata["tags"] = []any{"x", "y"}
	b.Metadata["count"] = 2
	b.Metadata["note"] = "hello"

	dataA, err := Canonical(a)
	if err != nil {
		t.Fatalf("Canonical(a) failed: %v", err)
	}
	dataB, err := Canonical(b)
	if err != nil {
		t.Fatalf("Canonical(b) failed: %v", err)
	}

	if string(dataA) != string(dataB) {
		t.Errorf("canonical forms differ:\n a=%s\n b=%s", dataA, dataB)
	}
}

func TestCanonical_DropsSignatureFields(t *testing.T) {
	unsigned := fixtureSpan()

	signed := fixtureSpan()
	signed.CurrHash = "b3:deadbeef"
	signed.Sig = &Signature{Alg: AlgEd25519Blake3, KeyID: "did:logline:abc", Nonce: "n", TS: 1}

	dataUnsigned, err := Canonical(unsigned)
	if err != nil {
		t.Fatalf("Canonical(unsigned) failed: %v", err)
	}
	dataSigned, err := Canonical(signed)
	if err != nil {
		t.Fatalf("Canonical(signed) failed: %v", err)
	}

	if string(dataUnsigned) != string(dataSigned) {
		t.Errorf("signature fields leaked into canonical form:\n %s\n %s", dataUnsigned, dataSigned)
	}
}

func TestCanonical_NoHTMLEscaping(t *testing.T) {
	s := fixtureSpan()
	s.Metadata = map[string]any{"expr": "a<b && c>d"}

	data, err := Canonical(s)
	if err != nil {
		t.Fatalf("Canonical() failed: %v", err)
	}
	want := `"a<b && c>d"`
	if !strings.Contains(string(data), want) {
		t.Errorf("canonical form HTML-escaped the payload: %s", data)
	}
}

func TestHash_StablePrefix(t *testing.T) {
	hash, err := Hash(fixtureSpan())
	if err != nil {
		t.Fatalf("Hash() failed: %v", err)
	}
	if len(hash) != len(HashPrefix)+64 {
		t.Errorf("hash length = %d, want %d", len(hash), len(HashPrefix)+64)
	}
	if hash[:3] != HashPrefix {
		t.Errorf("hash prefix = %q, want %q", hash[:3], HashPrefix)
	}

	again, err := Hash(fixtureSpan())
	if err != nil {
		t.Fatalf("Hash() failed: %v", err)
	}
	if hash != again {
		t.Errorf("hash not deterministic: %s vs %s", hash, again)
	}
}
