// Package authz issues and validates opaque bearer tokens and enforces
// capability scopes.
//
// Tokens are keyed by a one-way hash of the bearer secret; the secret
// itself is returned exactly once at issuance and never persisted.
// Validation is a pure function of stored state plus the presented
// secret. Every validation outcome, permit or deny, is recorded as an
// immutable auth.decision span before the result reaches the caller.
package authz
