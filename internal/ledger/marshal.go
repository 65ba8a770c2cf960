package ledger

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/loglineos/ledger/internal/span"
)

// marshalPayload converts an opaque payload map to canonical JSON TEXT
// for storage. Canonical storage matters: a signed span read back must
// hash to its stored curr_hash, so the bytes written cannot depend on
// map iteration order.
func marshalPayload(m map[string]any) (sql.NullString, error) {
	if m == nil {
		return sql.NullString{}, nil
	}
	data, err := span.CanonicalValue(m)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("marshal payload: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

// unmarshalPayload parses stored JSON TEXT back to a map. Numbers are
// decoded as json.Number so large integers survive the round trip and
// re-canonicalization reproduces the stored bytes.
func unmarshalPayload(ns sql.NullString) (map[string]any, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(ns.String)))
	dec.UseNumber()

	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("unmarshal payload: %w", err)
	}
	return m, nil
}

func marshalSig(sig *span.Signature) (sql.NullString, error) {
	if sig == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(sig)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("marshal signature: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func unmarshalSig(ns sql.NullString) (*span.Signature, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	var sig span.Signature
	if err := json.Unmarshal([]byte(ns.String), &sig); err != nil {
		return nil, fmt.Errorf("unmarshal signature: %w", err)
	}
	return &sig, nil
}

func marshalRelated(ids []string) (sql.NullString, error) {
	if len(ids) == 0 {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(ids)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("marshal related_to: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func unmarshalRelated(ns sql.NullString) ([]string, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	var ids []string
	if err := json.Unmarshal([]byte(ns.String), &ids); err != nil {
		return nil, fmt.Errorf("unmarshal related_to: %w", err)
	}
	return ids, nil
}

// spanColumns is the SELECT column list matching scanSpan's order.
const spanColumns = `id, seq, entity_type, who, did, this, at, status, name,
	owner_id, tenant_id, visibility, content, metadata, input, output, error,
	duration_ms, trace_id, curr_hash, sig, parent_id, related_to`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSpan(row rowScanner) (span.Span, error) {
	var (
		s          span.Span
		at         string
		visibility string
		content    sql.NullString
		metadata   sql.NullString
		input      sql.NullString
		output     sql.NullString
		errJSON    sql.NullString
		sig        sql.NullString
		related    sql.NullString
	)

	err := row.Scan(
		&s.ID, &s.Seq, &s.EntityType, &s.Who, &s.Did, &s.This, &at, &s.Status,
		&s.Name, &s.OwnerID, &s.TenantID, &visibility, &content, &metadata,
		&input, &output, &errJSON, &s.DurationMS, &s.TraceID, &s.CurrHash,
		&sig, &s.ParentID, &related,
	)
	if err != nil {
		return span.Span{}, fmt.Errorf("scan span: %w", err)
	}

	s.Visibility = span.Visibility(visibility)

	s.At, err = time.Parse(time.RFC3339Nano, at)
	if err != nil {
		return span.Span{}, fmt.Errorf("parse at %q: %w", at, err)
	}

	if s.Content, err = unmarshalPayload(content); err != nil {
		return span.Span{}, err
	}
	if s.Metadata, err = unmarshalPayload(metadata); err != nil {
		return span.Span{}, err
	}
	if s.Input, err = unmarshalPayload(input); err != nil {
		return span.Span{}, err
	}
	if s.Output, err = unmarshalPayload(output); err != nil {
		return span.Span{}, err
	}
	if s.Error, err = unmarshalPayload(errJSON); err != nil {
		return span.Span{}, err
	}
	if s.Sig, err = unmarshalSig(sig); err != nil {
		return span.Span{}, err
	}
	if s.RelatedTo, err = unmarshalRelated(related); err != nil {
		return span.Span{}, err
	}

	return s, nil
}
