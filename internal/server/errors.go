package server

import (
	"errors"
	"net/http"

	"github.com/loglineos/ledger/internal/authz"
	"github.com/loglineos/ledger/internal/ledger"
	"github.com/loglineos/ledger/internal/secret"
	"github.com/loglineos/ledger/internal/span"
	"github.com/loglineos/ledger/internal/wallet"
)

// fail maps a domain error to an HTTP status and writes it. The mapping
// follows the shared taxonomy: validation 400, absence 404, capability
// 403, duplicate or exhausted retries 409, replay 401, integrity 403,
// unreachable collaborators 503.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	}
	writeError(w, status, err.Error())
}

func statusFor(err error) int {
	switch {
	case ledger.IsValidation(err):
		return http.StatusBadRequest
	case errors.Is(err, ledger.ErrNotFound),
		errors.Is(err, wallet.ErrNotFound),
		errors.Is(err, authz.ErrTokenNotFound):
		return http.StatusNotFound
	case errors.Is(err, wallet.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, ledger.ErrConflict),
		errors.Is(err, wallet.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, wallet.ErrReplay):
		return http.StatusUnauthorized
	case errors.Is(err, span.ErrHashMismatch),
		errors.Is(err, span.ErrBadSignature),
		errors.Is(err, span.ErrMissingCrypto):
		return http.StatusForbidden
	case errors.Is(err, secret.ErrNotFound):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
