// Package server exposes the ledger, wallet, authorizer, and kernel
// over HTTP. Every route except the health probe sits behind the bearer
// middleware; handlers receive a ledger session already bound to the
// authenticated wallet's identity.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/loglineos/ledger/internal/authz"
	"github.com/loglineos/ledger/internal/kernel"
	"github.com/loglineos/ledger/internal/ledger"
	"github.com/loglineos/ledger/internal/wallet"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// Server routes HTTP traffic to the domain services.
type Server struct {
	store   *ledger.Store
	wallets *wallet.Service
	invoker *wallet.Invoker
	auth    *authz.Authorizer
	kernel  *kernel.Kernel
	log     zerolog.Logger
	mux     *http.ServeMux
}

// Options wires a server. All fields are required except Invoker, which
// may be nil when no providers are configured.
type Options struct {
	Store   *ledger.Store
	Wallets *wallet.Service
	Invoker *wallet.Invoker
	Auth    *authz.Authorizer
	Kernel  *kernel.Kernel
	Log     zerolog.Logger
}

// New builds the route table.
func New(opts Options) *Server {
	s := &Server{
		store:   opts.Store,
		wallets: opts.Wallets,
		invoker: opts.Invoker,
		auth:    opts.Auth,
		kernel:  opts.Kernel,
		log:     opts.Log,
		mux:     http.NewServeMux(),
	}

	s.mux.HandleFunc("GET /healthz", s.handleHealthz)

	s.protect("GET /spans", s.handleQuerySpans)
	s.protect("POST /spans", s.handleAppendSpan)
	s.protect("GET /spans/{id}", s.handleProjectSpan)
	s.protect("GET /timeline", s.handleTimeline)
	s.protect("GET /xray", s.handleXray)

	s.protect("POST /boot", s.handleBoot)

	s.protect("POST /wallet/open", s.handleWalletOpen)
	s.protect("POST /wallet/sign/span", s.handleSignSpan)
	s.protect("POST /wallet/sign/http", s.handleSignHTTP)
	s.protect("POST /wallet/provider/invoke", s.handleProviderInvoke)
	s.protect("POST /wallet/key/register", s.handleKeyRegister)
	s.protect("POST /wallet/key/rotate", s.handleKeyRotate)
	s.protect("POST /wallet/key/revoke", s.handleKeyRevoke)
	s.protect("GET /wallet/keys", s.handleKeyList)

	s.protect("POST /auth/keys/issue", s.handleTokenIssue)
	s.protect("POST /auth/keys/revoke", s.handleTokenRevoke)
	s.protect("POST /auth/keys/rotate", s.handleTokenRotate)
	s.protect("GET /auth/keys/list", s.handleTokenList)

	return s
}

// Handler returns the outermost handler: logging and CORS around the
// route table.
func (s *Server) Handler() http.Handler {
	return s.logging(s.cors(s.mux))
}

// ctxKey is the private context key namespace.
type ctxKey int

const decisionKey ctxKey = 1

func (s *Server) protect(pattern string, h http.HandlerFunc) {
	s.mux.Handle(pattern, s.authenticate(h))
}

// authenticate validates the bearer token and stores the permit
// decision on the request context. Denials answer here and never reach
// the handler.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		bearer := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")

		d, err := s.auth.Validate(r.Context(), bearer, r.Method, r.URL.Path)
		if err != nil {
			s.log.Error().Err(err).Str("path", r.URL.Path).Msg("authorizer unavailable")
			writeError(w, http.StatusServiceUnavailable, "authorizer unavailable")
			return
		}
		if !d.Permitted() {
			status := http.StatusUnauthorized
			if d.Reason == authz.ReasonInsufficientScope {
				status = http.StatusForbidden
			}
			writeJSON(w, status, map[string]any{"error": "denied", "reason": d.Reason})
			return
		}

		ctx := context.WithValue(r.Context(), decisionKey, d)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// decision returns the permit stored by the middleware.
func decision(r *http.Request) authz.Decision {
	d, _ := r.Context().Value(decisionKey).(authz.Decision)
	return d
}

// session binds a ledger session to the authenticated principal.
func (s *Server) session(r *http.Request) *ledger.Session {
	d := decision(r)
	return s.store.Bind("wallet:"+d.WalletID, d.TenantID)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DB().PingContext(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "ledger unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// statusRecorder captures the response status for request logging.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}

// decodeJSON reads a bounded JSON body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}
