package entity

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// The server never interprets glyph, syntax, or metrics content beyond the
// id field. Payloads are carried as canonical bytes: decode to a generic
// object, re-encode with encoding/json. Map keys come out sorted and numbers
// keep their literal form (UseNumber), so byte equality answers "did it
// change?" and canonicalization is idempotent.

const idField = "id"

// NormalizeObject decodes raw as a single JSON object and returns its
// canonical re-encoding.
func NormalizeObject(raw json.RawMessage) (json.RawMessage, error) {
	obj, err := decodeObject(raw)
	if err != nil {
		return nil, err
	}
	return encodeCanonical(obj)
}

// ParseItem validates a single entity object and returns its trimmed id
// together with the canonical payload bytes.
func ParseItem(raw json.RawMessage, what string) (string, json.RawMessage, error) {
	obj, err := decodeObject(raw)
	if err != nil {
		return "", nil, &PayloadError{Message: fmt.Sprintf("%s must be a JSON object", what)}
	}
	id, _ := obj[idField].(string)
	id = strings.TrimSpace(id)
	if id == "" {
		return "", nil, &PayloadError{Message: fmt.Sprintf("%s is missing a non-empty id", what)}
	}
	canon, err := encodeCanonical(obj)
	if err != nil {
		return "", nil, err
	}
	return id, canon, nil
}

// ParseArrayByID decodes a JSON array of entity objects into a map keyed by
// trimmed id. A later duplicate id silently replaces an earlier one.
func ParseArrayByID(raw json.RawMessage, what string) (map[string]json.RawMessage, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, &PayloadError{Message: fmt.Sprintf("%s must be a JSON array of objects", what)}
	}
	out := make(map[string]json.RawMessage, len(items))
	for i, item := range items {
		id, canon, err := ParseItem(item, fmt.Sprintf("%s[%d]", what, i))
		if err != nil {
			return nil, err
		}
		out[id] = canon
	}
	return out, nil
}

// MarshalByID serializes an entity map as a JSON array sorted by id
// ascending. The ordering is an external contract: persisted snapshots and
// snapshot events stay byte-stable unless a payload actually changes.
func MarshalByID(m map[string]json.RawMessage) json.RawMessage {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, id := range ids {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.Write(m[id])
	}
	buf.WriteByte(']')
	return buf.Bytes()
}

// NormalizeSnapshot validates the three payload fields of a project snapshot,
// applying the empty-project defaults: glyphs [], syntaxes [], metrics {}.
// Missing or null input normalizes to those defaults.
func NormalizeSnapshot(glyphs, syntaxes, metrics json.RawMessage) (map[string]json.RawMessage, map[string]json.RawMessage, json.RawMessage, error) {
	outGlyphs := map[string]json.RawMessage{}
	if !isEmptyJSON(glyphs) {
		var err error
		if outGlyphs, err = ParseArrayByID(glyphs, "glyphs"); err != nil {
			return nil, nil, nil, err
		}
	}

	outSyntaxes := map[string]json.RawMessage{}
	if !isEmptyJSON(syntaxes) {
		var err error
		if outSyntaxes, err = ParseArrayByID(syntaxes, "syntaxes"); err != nil {
			return nil, nil, nil, err
		}
	}

	outMetrics := json.RawMessage(`{}`)
	if !isEmptyJSON(metrics) {
		canon, err := NormalizeObject(metrics)
		if err != nil {
			return nil, nil, nil, &PayloadError{Message: "metrics must be a JSON object"}
		}
		outMetrics = canon
	}

	return outGlyphs, outSyntaxes, outMetrics, nil
}

// StringField extracts a trimmed top-level string field from a payload.
// Missing, non-object, or non-string values yield "".
func StringField(raw json.RawMessage, key string) string {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return ""
	}
	var s string
	if err := json.Unmarshal(obj[key], &s); err != nil {
		return ""
	}
	return strings.TrimSpace(s)
}

func decodeObject(raw json.RawMessage) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return nil, &PayloadError{Message: "invalid JSON object: " + err.Error()}
	}
	if obj == nil {
		return nil, &PayloadError{Message: "expected a JSON object"}
	}
	if dec.More() {
		return nil, &PayloadError{Message: "unexpected data after JSON object"}
	}
	return obj, nil
}

func encodeCanonical(obj map[string]any) (json.RawMessage, error) {
	b, err := json.Marshal(obj)
	if err != nil {
		return nil, &PayloadError{Message: "payload is not serializable: " + err.Error()}
	}
	return b, nil
}

func isEmptyJSON(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}
