package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/loglineos/ledger/internal/authz"
	"github.com/loglineos/ledger/internal/kernel"
	"github.com/loglineos/ledger/internal/ledger"
	"github.com/loglineos/ledger/internal/secret"
	"github.com/loglineos/ledger/internal/wallet"
)

type serverFixture struct {
	ts    *httptest.Server
	auth  *authz.Authorizer
	store *ledger.Store
}

func newServerFixture(t *testing.T) *serverFixture {
	t.Helper()

	store, err := ledger.Open(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	secrets := secret.NewMem()
	require.NoError(t, secrets.Put(context.Background(), "auth/pepper", []byte("test-pepper")))

	auth, err := authz.New(store, secrets, "auth/pepper", authz.DefaultCacheTTL)
	require.NoError(t, err)

	reg, err := wallet.NewRegistry(store.DB())
	require.NoError(t, err)
	require.NoError(t, reg.EnsureWallet(context.Background(), "w1", "user:ana", "voulezvous"))

	wallets := wallet.NewService(reg, secrets, wallet.NewNonceStore(wallet.DefaultNonceTTL))

	srv := New(Options{
		Store:   store,
		Wallets: wallets,
		Auth:    auth,
		Kernel:  kernel.New(kernel.NewRegistry()),
		Log:     zerolog.Nop(),
	})

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &serverFixture{ts: ts, auth: auth, store: store}
}

func (f *serverFixture) token(t *testing.T, scopes ...string) string {
	t.Helper()
	iss, err := f.auth.Issue(context.Background(), authz.IssueRequest{
		WalletID: "w1",
		TenantID: "voulezvous",
		Scopes:   scopes,
	})
	require.NoError(t, err)
	return iss.Secret
}

func (f *serverFixture) do(t *testing.T, token, method, path string, body any) (*http.Response, map[string]any) {
	t.Helper()

	var buf io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		buf = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, f.ts.URL+path, buf)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded map[string]any
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &decoded), "body: %s", raw)
	}
	return resp, decoded
}

func TestHealthzIsPublic(t *testing.T) {
	f := newServerFixture(t)
	resp, body := f.do(t, "", "GET", "/healthz", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, true, body["ok"])
}

func TestRequestsWithoutTokenAreRejected(t *testing.T) {
	f := newServerFixture(t)
	resp, body := f.do(t, "", "GET", "/spans", nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.Equal(t, authz.ReasonMissingToken, body["reason"])
}

func TestAppendAndProjectEndToEnd(t *testing.T) {
	f := newServerFixture(t)
	tok := f.token(t, "span.write", "span.read")

	mem := map[string]any{
		"id":          "m1",
		"entity_type": "memory",
		"who":         "user:ana",
		"did":         "created",
		"this":        "memory.note",
		"visibility":  "tenant",
		"content":     map[string]any{"note": "first"},
	}
	resp, body := f.do(t, tok, "POST", "/spans", mem)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.EqualValues(t, 0, body["seq"])

	mem["content"] = map[string]any{"note": "second"}
	resp, body = f.do(t, tok, "POST", "/spans", mem)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.EqualValues(t, 1, body["seq"])

	// The projection is the newest revision.
	resp, body = f.do(t, tok, "GET", "/spans/m1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.EqualValues(t, 1, body["seq"])
	content, ok := body["content"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, "second", content["note"])

	resp, body = f.do(t, tok, "GET", "/timeline", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.EqualValues(t, 1, body["count"])
}

func TestScopeEnforcementPerRoute(t *testing.T) {
	f := newServerFixture(t)
	readOnly := f.token(t, "span.read")

	resp, body := f.do(t, readOnly, "POST", "/spans", map[string]any{
		"id": "m1", "entity_type": "memory",
		"who": "user:ana", "did": "created", "this": "memory.note",
	})
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	require.Equal(t, authz.ReasonInsufficientScope, body["reason"])

	resp, _ = f.do(t, readOnly, "GET", "/spans", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestProjectUnknownSpanIs404(t *testing.T) {
	f := newServerFixture(t)
	tok := f.token(t, "span.read")

	resp, _ := f.do(t, tok, "GET", "/spans/ghost", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAppendValidationIs400(t *testing.T) {
	f := newServerFixture(t)
	tok := f.token(t, "span.write")

	resp, _ := f.do(t, tok, "POST", "/spans", map[string]any{"id": "m1"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestBootDeniedWithoutManifest(t *testing.T) {
	f := newServerFixture(t)
	tok := f.token(t, "boot.invoke")

	resp, body := f.do(t, tok, "POST", "/boot", map[string]any{"boot_id": "fn-ghost"})
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	require.Equal(t, kernel.DenyNotInManifest, body["reason"])
}

func TestKeyLifecycleOverHTTP(t *testing.T) {
	f := newServerFixture(t)
	tok := f.token(t, "wallet.keys.*")

	resp, _ := f.do(t, tok, "POST", "/wallet/key/register", map[string]any{
		"wallet_id":    "w1",
		"kid":          "k1",
		"type":         wallet.TypeEd25519,
		"secret_ref":   "keys/k1",
		"capabilities": []string{wallet.CapSignSpan},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	// Duplicate kid conflicts.
	resp, _ = f.do(t, tok, "POST", "/wallet/key/register", map[string]any{
		"wallet_id":  "w1",
		"kid":        "k1",
		"type":       wallet.TypeEd25519,
		"secret_ref": "keys/k1",
	})
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, body := f.do(t, tok, "GET", "/wallet/keys?wallet_id=w1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	keys, ok := body["keys"].([]any)
	require.True(t, ok)
	require.Len(t, keys, 1)
	first, ok := keys[0].(map[string]any)
	require.True(t, ok)
	_, leaked := first["secret_ref"]
	require.False(t, leaked && first["secret_ref"] != "", "secret_ref leaked: %v", first)
}

func TestTokenIssueOverHTTP(t *testing.T) {
	f := newServerFixture(t)
	admin := f.token(t, "auth.keys.*")

	resp, body := f.do(t, admin, "POST", "/auth/keys/issue", map[string]any{
		"wallet_id": "w1",
		"tenant_id": "voulezvous",
		"scopes":    []string{"span.read"},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	minted, ok := body["secret"].(string)
	require.True(t, ok)

	// The minted token works immediately.
	resp, _ = f.do(t, minted, "GET", "/spans", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = f.do(t, admin, "GET", "/auth/keys/list?wallet_id=w1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	tokens, ok := body["tokens"].([]any)
	require.True(t, ok)
	require.NotEmpty(t, tokens)
	for _, item := range tokens {
		m := m2(t, item)
		require.NotContains(t, fmt.Sprint(m["hash_preview"]), minted)
	}
}

func m2(t *testing.T, v any) map[string]any {
	t.Helper()
	m, ok := v.(map[string]any)
	require.True(t, ok)
	return m
}
