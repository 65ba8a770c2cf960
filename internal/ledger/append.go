package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"

	"github.com/loglineos/ledger/internal/span"
)

// maxAppendAttempts bounds the seq-conflict retry loop. Exhausting the
// budget fails fast with ErrConflict rather than looping unbounded.
const maxAppendAttempts = 5

// Append inserts a span at desiredSeq (0 means "first free slot"). On a
// (id, seq) uniqueness conflict it re-reads max(seq) for the id and
// retries at max+1, up to maxAppendAttempts.
//
// Missing optional fields are defaulted from the session: owner_id from
// the user, tenant_id from the tenant, visibility to private. A missing
// id gets a fresh UUID, a zero `at` gets the store clock. Validation of
// required fields happens before any write.
//
// Returns the span as stored, including the seq actually claimed.
func (sess *Session) Append(ctx context.Context, s span.Span, desiredSeq int64) (span.Span, error) {
	if err := validate(s); err != nil {
		return span.Span{}, err
	}

	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.At.IsZero() {
		s.At = sess.store.Now().UTC()
	}
	if s.Status == "" {
		s.Status = "active"
	}
	if s.OwnerID == "" {
		s.OwnerID = sess.UserID
	}
	if s.TenantID == "" {
		s.TenantID = sess.TenantID
	}
	if s.Visibility == "" {
		s.Visibility = span.VisibilityPrivate
	}
	if desiredSeq > 0 {
		s.Seq = desiredSeq
	} else if s.Seq < 0 {
		s.Seq = 0
	}

	for attempt := 0; attempt < maxAppendAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return span.Span{}, fmt.Errorf("append cancelled: %w", err)
		}

		err := sess.insert(ctx, s)
		if err == nil {
			return s, nil
		}
		if !isUniqueViolation(err) {
			return span.Span{}, fmt.Errorf("append span %s: %w", s.ID, err)
		}

		// Another writer claimed this (id, seq). Renumber past the
		// current maximum and try again.
		next, rerr := sess.nextSeq(ctx, s.ID)
		if rerr != nil {
			return span.Span{}, fmt.Errorf("append span %s: reread seq: %w", s.ID, rerr)
		}
		s.Seq = next
	}

	return span.Span{}, fmt.Errorf("append span %s after %d attempts: %w", s.ID, maxAppendAttempts, ErrConflict)
}

func validate(s span.Span) error {
	required := []struct {
		field, value string
	}{
		{"entity_type", s.EntityType},
		{"who", s.Who},
		{"did", s.Did},
		{"this", s.This},
	}
	for _, r := range required {
		if r.value == "" {
			return &ValidationError{Field: r.field, Message: "required"}
		}
	}
	switch s.Visibility {
	case "", span.VisibilityPrivate, span.VisibilityTenant, span.VisibilityPublic:
	default:
		return &ValidationError{Field: "visibility", Message: fmt.Sprintf("invalid value %q", s.Visibility)}
	}
	if s.Seq < 0 {
		return &ValidationError{Field: "seq", Message: "must be >= 0"}
	}
	return nil
}

func (sess *Session) insert(ctx context.Context, s span.Span) error {
	content, err := marshalPayload(s.Content)
	if err != nil {
		return err
	}
	metadata, err := marshalPayload(s.Metadata)
	if err != nil {
		return err
	}
	input, err := marshalPayload(s.Input)
	if err != nil {
		return err
	}
	output, err := marshalPayload(s.Output)
	if err != nil {
		return err
	}
	errJSON, err := marshalPayload(s.Error)
	if err != nil {
		return err
	}
	sig, err := marshalSig(s.Sig)
	if err != nil {
		return err
	}
	related, err := marshalRelated(s.RelatedTo)
	if err != nil {
		return err
	}

	_, err = sess.store.db.ExecContext(ctx, `
		INSERT INTO spans
		(id, seq, entity_type, who, did, this, at, status, name, owner_id,
		 tenant_id, visibility, content, metadata, input, output, error,
		 duration_ms, trace_id, curr_hash, sig, parent_id, related_to)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		s.ID, s.Seq, s.EntityType, s.Who, s.Did, s.This,
		s.At.UTC().Format(time.RFC3339Nano), s.Status, s.Name, s.OwnerID,
		s.TenantID, string(s.Visibility), content, metadata, input, output,
		errJSON, s.DurationMS, s.TraceID, s.CurrHash, sig, s.ParentID, related,
	)
	return err
}

// nextSeq returns 1 + max(seq) over ALL rows for id, not just visible
// ones: seq allocation is a storage-level concern and must not collide
// with rows the session cannot see.
func (sess *Session) nextSeq(ctx context.Context, id string) (int64, error) {
	var max int64
	err := sess.store.db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(seq), -1) FROM spans WHERE id = ?
	`, id).Scan(&max)
	if err != nil {
		return 0, err
	}
	return max + 1, nil
}

// isUniqueViolation reports a (id, seq) uniqueness race specifically.
// Other constraint classes (CHECK, NOT NULL) are not retryable and must
// surface as-is.
func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}
