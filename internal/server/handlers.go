package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/loglineos/ledger/internal/authz"
	"github.com/loglineos/ledger/internal/kernel"
	"github.com/loglineos/ledger/internal/ledger"
	"github.com/loglineos/ledger/internal/span"
	"github.com/loglineos/ledger/internal/wallet"
)

func (s *Server) handleQuerySpans(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := ledger.Filter{
		EntityType: q.Get("entity_type"),
		Status:     q.Get("status"),
		ParentID:   q.Get("parent_id"),
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "limit must be an integer")
			return
		}
		f.Limit = limit
	}

	spans, err := s.session(r).Query(r.Context(), f)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"spans": spans, "count": len(spans)})
}

func (s *Server) handleAppendSpan(w http.ResponseWriter, r *http.Request) {
	var sp span.Span
	if err := decodeJSON(w, r, &sp); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	written, err := s.session(r).Append(r.Context(), sp, sp.Seq)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, written)
}

func (s *Server) handleProjectSpan(w http.ResponseWriter, r *http.Request) {
	sp, err := s.session(r).Project(r.Context(), r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sp)
}

func (s *Server) handleTimeline(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "limit must be an integer")
			return
		}
		limit = n
	}

	spans, err := s.session(r).Timeline(r.Context(), limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"timeline": spans, "count": len(spans)})
}

func (s *Server) handleXray(w http.ResponseWriter, r *http.Request) {
	stats, err := s.session(r).Stats(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"types": stats})
}

func (s *Server) handleBoot(w http.ResponseWriter, r *http.Request) {
	var req struct {
		BootID string         `json:"boot_id"`
		Input  map[string]any `json:"input"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.BootID == "" {
		writeError(w, http.StatusBadRequest, "boot_id is required")
		return
	}

	d := decision(r)
	scopes := d.Scopes
	if scopes == nil {
		scopes = []string{}
	}
	res, err := s.kernel.Boot(r.Context(), s.session(r), kernel.Request{
		BootID: req.BootID,
		Input:  req.Input,
		Caller: "wallet:" + d.WalletID,
		Scopes: scopes,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}

	status := http.StatusOK
	if res.State == kernel.StateDenied {
		status = http.StatusForbidden
	}
	writeJSON(w, status, res)
}

func (s *Server) handleWalletOpen(w http.ResponseWriter, r *http.Request) {
	var req struct {
		WalletID string `json:"wallet_id"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	sess, err := s.wallets.Open(r.Context(), req.WalletID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleSignSpan(w http.ResponseWriter, r *http.Request) {
	var req struct {
		WalletID string    `json:"wallet_id"`
		Kid      string    `json:"kid"`
		Span     span.Span `json:"span"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := s.wallets.SignSpan(r.Context(), req.WalletID, req.Kid, req.Span)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleSignHTTP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		WalletID string `json:"wallet_id"`
		Kid      string `json:"kid"`
		Method   string `json:"method"`
		Path     string `json:"path"`
		Body     string `json:"body"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	headers, err := s.wallets.SignHTTP(r.Context(), req.WalletID, req.Kid, req.Method, req.Path, []byte(req.Body))
	if err != nil {
		s.fail(w, r, err)
		return
	}

	flat := map[string]string{}
	for name := range headers {
		flat[name] = headers.Get(name)
	}
	writeJSON(w, http.StatusOK, map[string]any{"headers": flat})
}

func (s *Server) handleProviderInvoke(w http.ResponseWriter, r *http.Request) {
	if s.invoker == nil {
		writeError(w, http.StatusServiceUnavailable, "no providers configured")
		return
	}

	var req struct {
		WalletID string `json:"wallet_id"`
		Kid      string `json:"kid"`
		wallet.ProviderRequest
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := s.invoker.Invoke(r.Context(), req.WalletID, req.Kid, req.ProviderRequest)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleKeyRegister(w http.ResponseWriter, r *http.Request) {
	var item wallet.KeyItem
	if err := decodeJSON(w, r, &item); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.wallets.Registry().RegisterKey(r.Context(), item); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"registered": item.Kid})
}

func (s *Server) handleKeyRotate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		WalletID  string `json:"wallet_id"`
		Kid       string `json:"kid"`
		SecretRef string `json:"secret_ref"`
		PublicKey string `json:"public_key"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.wallets.Registry().RotateKey(r.Context(), req.WalletID, req.Kid, req.SecretRef, req.PublicKey); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rotated": req.Kid})
}

func (s *Server) handleKeyRevoke(w http.ResponseWriter, r *http.Request) {
	var req struct {
		WalletID string `json:"wallet_id"`
		Kid      string `json:"kid"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.wallets.Registry().RevokeKey(r.Context(), req.WalletID, req.Kid); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"revoked": req.Kid})
}

func (s *Server) handleKeyList(w http.ResponseWriter, r *http.Request) {
	walletID := r.URL.Query().Get("wallet_id")
	if walletID == "" {
		writeError(w, http.StatusBadRequest, "wallet_id is required")
		return
	}

	keys, err := s.wallets.Registry().ListKeys(r.Context(), walletID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	// Secret references stay server-side.
	for i := range keys {
		keys[i].SecretRef = ""
	}
	writeJSON(w, http.StatusOK, map[string]any{"keys": keys})
}

func (s *Server) handleTokenIssue(w http.ResponseWriter, r *http.Request) {
	var req struct {
		WalletID    string   `json:"wallet_id"`
		TenantID    string   `json:"tenant_id"`
		Scopes      []string `json:"scopes"`
		TTLSeconds  int64    `json:"ttl_seconds"`
		Description string   `json:"description"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	d := decision(r)
	issued, err := s.auth.Issue(r.Context(), authz.IssueRequest{
		WalletID:    req.WalletID,
		TenantID:    req.TenantID,
		Scopes:      req.Scopes,
		TTL:         time.Duration(req.TTLSeconds) * time.Second,
		Description: req.Description,
		CreatedBy:   "wallet:" + d.WalletID,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, issued)
}

func (s *Server) handleTokenRevoke(w http.ResponseWriter, r *http.Request) {
	var req struct {
		WalletID string `json:"wallet_id"`
		Hash     string `json:"hash"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	switch {
	case req.Hash != "":
		err := s.auth.RevokeHash(r.Context(), req.Hash)
		if errors.Is(err, authz.ErrTokenNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"revoked": 1})
	case req.WalletID != "":
		n, err := s.auth.Revoke(r.Context(), req.WalletID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"revoked": n})
	default:
		writeError(w, http.StatusBadRequest, "wallet_id or hash is required")
	}
}

func (s *Server) handleTokenRotate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		WalletID    string   `json:"wallet_id"`
		TenantID    string   `json:"tenant_id"`
		Scopes      []string `json:"scopes"`
		TTLSeconds  int64    `json:"ttl_seconds"`
		Description string   `json:"description"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	d := decision(r)
	issued, err := s.auth.Rotate(r.Context(), authz.IssueRequest{
		WalletID:    req.WalletID,
		TenantID:    req.TenantID,
		Scopes:      req.Scopes,
		TTL:         time.Duration(req.TTLSeconds) * time.Second,
		Description: req.Description,
		CreatedBy:   "wallet:" + d.WalletID,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, issued)
}

func (s *Server) handleTokenList(w http.ResponseWriter, r *http.Request) {
	walletID := r.URL.Query().Get("wallet_id")
	if walletID == "" {
		writeError(w, http.StatusBadRequest, "wallet_id is required")
		return
	}

	tokens, err := s.auth.List(r.Context(), walletID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tokens": tokens})
}
