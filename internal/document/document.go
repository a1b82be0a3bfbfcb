// Package document holds the JSON-compatible tree shared by ingestion,
// review and validation.
//
// A tree is what encoding/json produces when decoding into an interface
// value, with one difference: numbers are kept as json.Number so that a
// parse followed by a serialize never rewrites them (1.50 stays 1.50).
package document

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"reflect"
	"strings"
)

var (
	// ErrTrailingData is returned when a payload holds more than one JSON value.
	ErrTrailingData = errors.New("unexpected data after JSON value")

	// ErrNotObject is returned when an operation needs a JSON object at the root.
	ErrNotObject = errors.New("document root is not an object")
)

// Parse decodes exactly one JSON value from data.
func Parse(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, ErrTrailingData
	}
	return v, nil
}

// ParseString is Parse for text input.
func ParseString(s string) (any, error) {
	return Parse([]byte(s))
}

// Marshal serializes a tree with two-space indentation and no HTML escaping.
func Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("marshal document: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// MarshalString is Marshal returning text.
func MarshalString(v any) (string, error) {
	b, err := Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Clone returns a deep copy of a tree. Scalars are shared since they are immutable.
func Clone(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = Clone(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = Clone(val)
		}
		return out
	default:
		return v
	}
}

// Equal reports whether two trees are structurally equal.
func Equal(a, b any) bool {
	return reflect.DeepEqual(a, b)
}

// IsEmpty reports whether a payload is empty or whitespace only.
func IsEmpty(data []byte) bool {
	return len(bytes.TrimSpace(data)) == 0
}

// Entries returns the entry list of a bundle-shaped document.
//
// Entries live under "entry" at the root, or under "bundle.entry" when the
// backend wraps the bundle. The second result is false when no list exists.
func Entries(doc any) ([]any, bool) {
	holder, ok := entryHolder(doc)
	if !ok {
		return nil, false
	}
	list, ok := holder["entry"].([]any)
	return list, ok
}

// SetEntries stores entries back into doc, creating the list when missing.
// doc is modified in place.
func SetEntries(doc any, entries []any) error {
	holder, ok := entryHolder(doc)
	if !ok {
		return ErrNotObject
	}
	if entries == nil {
		entries = []any{}
	}
	holder["entry"] = entries
	return nil
}

// entryHolder returns the object that owns the "entry" key.
func entryHolder(doc any) (map[string]any, bool) {
	root, ok := doc.(map[string]any)
	if !ok {
		return nil, false
	}
	if bundle, ok := root["bundle"].(map[string]any); ok {
		return bundle, true
	}
	return root, true
}

// Resource returns the object holding an entry's fields: entry.resource when
// present, otherwise the entry itself. Returns nil for non-object entries.
func Resource(entry any) map[string]any {
	obj, ok := entry.(map[string]any)
	if !ok {
		return nil
	}
	if res, ok := obj["resource"].(map[string]any); ok {
		return res
	}
	return obj
}

// StringField returns obj[key] when it is a string, otherwise "".
func StringField(obj map[string]any, key string) string {
	if obj == nil {
		return ""
	}
	if s, ok := obj[key].(string); ok {
		return s
	}
	return ""
}

// Summary describes a document in one line for logs, e.g. "object(3 keys, 12 entries)".
func Summary(doc any) string {
	switch t := doc.(type) {
	case map[string]any:
		var b strings.Builder
		fmt.Fprintf(&b, "object(%d keys", len(t))
		if entries, ok := Entries(t); ok {
			fmt.Fprintf(&b, ", %d entries", len(entries))
		}
		b.WriteString(")")
		return b.String()
	case []any:
		return fmt.Sprintf("array(%d)", len(t))
	case nil:
		return "null"
	default:
		return fmt.Sprintf("%T", doc)
	}
}
