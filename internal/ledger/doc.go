// Package ledger implements the append-only span store over SQLite.
//
// Spans are keyed by (id, seq) with a uniqueness constraint; appends that
// race on the same id resolve by re-reading max(seq) and retrying at
// max+1, bounded to a fixed attempt budget. Reads return the caller's
// visible projection: the highest-seq row for an id whose visibility and
// tenant satisfy the bound session.
//
// Every read and write goes through a Session carrying the caller's
// (user, tenant) context. The session is bound before any statement runs
// and scopes all row-level filtering, mirroring the per-connection
// context binding the contract requires of the underlying store.
package ledger
