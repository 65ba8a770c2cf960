// Package span defines the ledger's only persisted entity: the immutable,
// versioned span. It provides the canonical encoding used for content
// hashing, BLAKE3 content hashes, DID-style key identifiers, and Ed25519
// signature creation and verification.
//
// A span is never updated in place. A correction is a new row sharing the
// same id with a higher seq. The pair (id, seq) is the storage key; the
// "visible projection" of an id is its highest visible seq.
package span
