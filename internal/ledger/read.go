package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/loglineos/ledger/internal/span"
)

// Project returns the visible projection of id: the highest-seq row
// whose visibility and tenant satisfy the session. Returns ErrNotFound
// when no visible row exists.
func (sess *Session) Project(ctx context.Context, id string) (span.Span, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM spans
		WHERE id = ? AND %s
		ORDER BY seq DESC
		LIMIT 1
	`, spanColumns, visibleWhere)

	args := append([]any{id}, sess.visibleArgs()...)
	row := sess.store.db.QueryRowContext(ctx, query, args...)

	s, err := scanSpan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return span.Span{}, fmt.Errorf("project %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return span.Span{}, fmt.Errorf("project %s: %w", id, err)
	}
	return s, nil
}

// Filter restricts a Query. Zero values mean "no restriction".
type Filter struct {
	EntityType string
	Status     string
	ParentID   string
	Limit      int
}

const defaultQueryLimit = 50

// Query returns visible spans newest-first. The query is finite and
// restartable: no cursor state is retained between calls. Returns an
// empty slice, never nil.
func (sess *Session) Query(ctx context.Context, f Filter) ([]span.Span, error) {
	query := fmt.Sprintf(`SELECT %s FROM spans WHERE %s`, spanColumns, visibleWhere)
	args := sess.visibleArgs()

	if f.EntityType != "" {
		query += " AND entity_type = ?"
		args = append(args, f.EntityType)
	}
	if f.Status != "" {
		query += " AND status = ?"
		args = append(args, f.Status)
	}
	if f.ParentID != "" {
		query += " AND parent_id = ?"
		args = append(args, f.ParentID)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = defaultQueryLimit
	}
	// Deterministic ordering: newest first, id as tiebreaker.
	query += " ORDER BY at DESC, seq DESC, id COLLATE BINARY ASC LIMIT ?"
	args = append(args, limit)

	rows, err := sess.store.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query spans: %w", err)
	}
	defer rows.Close()

	spans := []span.Span{}
	for rows.Next() {
		s, err := scanSpan(rows)
		if err != nil {
			return nil, err
		}
		spans = append(spans, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate spans: %w", err)
	}

	return spans, nil
}

// Timeline returns visible projections only: for each id, its highest
// visible seq, newest-first. The max is taken over visible rows, not
// all rows, so a revision the caller cannot see never hides an earlier
// revision they can. This is the read model the REST /timeline endpoint
// serves.
func (sess *Session) Timeline(ctx context.Context, limit int) ([]span.Span, error) {
	if limit <= 0 {
		limit = defaultQueryLimit
	}

	query := fmt.Sprintf(`
		SELECT %s FROM spans
		WHERE %s
		AND seq = (SELECT MAX(s2.seq) FROM spans s2
			WHERE s2.id = spans.id AND %s)
		ORDER BY at DESC, id COLLATE BINARY ASC
		LIMIT ?
	`, spanColumns, visibleWhere, visibleWhere)

	args := append(sess.visibleArgs(), sess.visibleArgs()...)
	args = append(args, limit)
	rows, err := sess.store.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query timeline: %w", err)
	}
	defer rows.Close()

	spans := []span.Span{}
	for rows.Next() {
		s, err := scanSpan(rows)
		if err != nil {
			return nil, err
		}
		spans = append(spans, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate timeline: %w", err)
	}

	return spans, nil
}

// LatestManifest returns the current visible manifest span, or
// ErrNotFound if none has been seeded.
func (sess *Session) LatestManifest(ctx context.Context) (span.Span, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM spans
		WHERE entity_type = 'manifest' AND %s
		ORDER BY at DESC, seq DESC
		LIMIT 1
	`, spanColumns, visibleWhere)

	row := sess.store.db.QueryRowContext(ctx, query, sess.visibleArgs()...)
	s, err := scanSpan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return span.Span{}, fmt.Errorf("latest manifest: %w", ErrNotFound)
	}
	if err != nil {
		return span.Span{}, fmt.Errorf("latest manifest: %w", err)
	}
	return s, nil
}

// TypeCount is one row of the x-ray report.
type TypeCount struct {
	EntityType string `json:"entity_type"`
	Count      int64  `json:"count"`
}

// Stats returns visible span counts grouped by entity type, largest
// first. Feeds the x-ray report.
func (sess *Session) Stats(ctx context.Context) ([]TypeCount, error) {
	query := fmt.Sprintf(`
		SELECT entity_type, COUNT(*) FROM spans
		WHERE %s
		GROUP BY entity_type
		ORDER BY COUNT(*) DESC, entity_type ASC
	`, visibleWhere)

	rows, err := sess.store.db.QueryContext(ctx, query, sess.visibleArgs()...)
	if err != nil {
		return nil, fmt.Errorf("query stats: %w", err)
	}
	defer rows.Close()

	counts := []TypeCount{}
	for rows.Next() {
		var tc TypeCount
		if err := rows.Scan(&tc.EntityType, &tc.Count); err != nil {
			return nil, fmt.Errorf("scan stats: %w", err)
		}
		counts = append(counts, tc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stats: %w", err)
	}

	return counts, nil
}
