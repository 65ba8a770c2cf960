package span

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"golang.org/x/text/unicode/norm"
)

// Canonical produces the deterministic byte encoding of a span used for
// content hashing. CRITICAL: this is the ONLY serialization that may feed
// curr_hash computation.
//
// Rules:
//  1. The signature block and curr_hash are dropped (they describe the
//     canonical form, so they cannot be part of it).
//  2. Zero-valued optional fields are omitted.
//  3. Object keys are sorted bytewise.
//  4. Strings are NFC normalized and encoded without HTML escaping.
//  5. Number encoding is deterministic: integers as base-10, floats as
//     the shortest round-trip form.
//
// Canonicalizing the same span twice, regardless of how its payload maps
// were built, yields identical bytes.
func Canonical(s Span) ([]byte, error) {
	data, err := encodeValue(canonicalFields(s))
	if err != nil {
		return nil, fmt.Errorf("canonicalize span %s: %w", s.ID, err)
	}
	return data, nil
}

// CanonicalValue encodes a single payload value (Content, Metadata,
// Input, Output, Error) in canonical form. The ledger stores payloads as
// this text so that a span read back hashes to its stored curr_hash.
func CanonicalValue(v any) ([]byte, error) {
	return encodeValue(v)
}

// canonicalFields assembles the hashable field set. Explicit assembly
// (rather than reflection over struct tags) keeps the canonical surface
// reviewable: a new field is hashed only when it is added here.
func canonicalFields(s Span) map[string]any {
	m := map[string]any{
		"id":          s.ID,
		"seq":         s.Seq,
		"entity_type": s.EntityType,
		"who":         s.Who,
		"did":         s.Did,
		"this":        s.This,
		"at":          s.At.UTC().Format(time.RFC3339Nano),
		"status":      s.Status,
	}
	if s.Name != "" {
		m["name"] = s.Name
	}
	if s.OwnerID != "" {
		m["owner_id"] = s.OwnerID
	}
	if s.TenantID != "" {
		m["tenant_id"] = s.TenantID
	}
	if s.Visibility != "" {
		m["visibility"] = string(s.Visibility)
	}
	if s.Content != nil {
		m["content"] = s.Content
	}
	if s.Metadata != nil {
		m["metadata"] = s.Metadata
	}
	if s.Input != nil {
		m["input"] = s.Input
	}
	if s.Output != nil {
		m["output"] = s.Output
	}
	if s.Error != nil {
		m["error"] = s.Error
	}
	if s.DurationMS != 0 {
		m["duration_ms"] = s.DurationMS
	}
	if s.TraceID != "" {
		m["trace_id"] = s.TraceID
	}
	if s.ParentID != "" {
		m["parent_id"] = s.ParentID
	}
	if len(s.RelatedTo) > 0 {
		m["related_to"] = s.RelatedTo
	}
	return m
}

func encodeValue(v any) ([]byte, error) {
	switch val := v.(type) {
	case nil:
		return []byte("null"), nil
	case bool:
		if val {
			return []byte("true"), nil
		}
		return []byte("false"), nil
	case string:
		return encodeString(val)
	case json.Number:
		return []byte(val.String()), nil
	case int:
		return strconv.AppendInt(nil, int64(val), 10), nil
	case int64:
		return strconv.AppendInt(nil, val, 10), nil
	case float64:
		if val == float64(int64(val)) {
			return strconv.AppendInt(nil, int64(val), 10), nil
		}
		return strconv.AppendFloat(nil, val, 'g', -1, 64), nil
	case []string:
		arr := make([]any, len(val))
		for i, s := range val {
			arr[i] = s
		}
		return encodeArray(arr)
	case []any:
		return encodeArray(val)
	case map[string]any:
		return encodeObject(val)
	default:
		return nil, fmt.Errorf("unsupported type for canonical encoding: %T", v)
	}
}

// encodeString NFC-normalizes and encodes without HTML escaping.
func encodeString(s string) ([]byte, error) {
	normalized := norm.NFC.String(s)

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(normalized); err != nil {
		return nil, fmt.Errorf("encode string: %w", err)
	}
	// Encoder appends a newline; strip it.
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

func encodeArray(arr []any) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, elem := range arr {
		if i > 0 {
			buf.WriteByte(',')
		}
		data, err := encodeValue(elem)
		if err != nil {
			return nil, fmt.Errorf("array[%d]: %w", i, err)
		}
		buf.Write(data)
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}

func encodeObject(obj map[string]any) ([]byte, error) {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		keyData, err := encodeString(k)
		if err != nil {
			return nil, fmt.Errorf("object key %q: %w", k, err)
		}
		buf.Write(keyData)
		buf.WriteByte(':')

		valData, err := encodeValue(obj[k])
		if err != nil {
			return nil, fmt.Errorf("object[%q]: %w", k, err)
		}
		buf.Write(valData)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
