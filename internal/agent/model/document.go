package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
)

// Document is a JSON object recovered from model output. It has no mutators:
// every accessor returns copies, so a Document handed to a later step or a
// renderer cannot be changed behind the producer's back.
type Document struct {
	fields map[string]any
}

// NewDocument deep-copies fields into a Document.
func NewDocument(fields map[string]any) Document {
	if fields == nil {
		return Document{fields: map[string]any{}}
	}
	return Document{fields: copyMap(fields)}
}

// Len returns the number of top-level keys.
func (d Document) Len() int {
	return len(d.fields)
}

// IsZero reports whether the document has no keys.
func (d Document) IsZero() bool {
	return len(d.fields) == 0
}

// Keys returns the top-level keys in sorted order.
func (d Document) Keys() []string {
	keys := make([]string, 0, len(d.fields))
	for k := range d.fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Get returns a copy of the top-level value stored under key.
func (d Document) Get(key string) (any, bool) {
	v, ok := d.fields[key]
	if !ok {
		return nil, false
	}
	return copyValue(v), true
}

// Lookup resolves a dotted path such as "course_info.title".
func (d Document) Lookup(path string) (any, bool) {
	var cur any = d.fields
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return copyValue(cur), true
}

// Map returns a deep copy of the document contents.
func (d Document) Map() map[string]any {
	if d.fields == nil {
		return map[string]any{}
	}
	return copyMap(d.fields)
}

// Merge returns a new document holding d's keys overlaid by other's keys.
func (d Document) Merge(other Document) Document {
	out := make(map[string]any, len(d.fields)+len(other.fields))
	for k, v := range d.fields {
		out[k] = copyValue(v)
	}
	for k, v := range other.fields {
		out[k] = copyValue(v)
	}
	return Document{fields: out}
}

// MarshalJSON encodes the document as a JSON object.
func (d Document) MarshalJSON() ([]byte, error) {
	if d.fields == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(d.fields)
}

// UnmarshalJSON decodes a JSON object. It exists for checkpoint loading.
func (d *Document) UnmarshalJSON(b []byte) error {
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		d.fields = map[string]any{}
		return nil
	}
	m, err := DecodeObject(b)
	if err != nil {
		return fmt.Errorf("decode document: %w", err)
	}
	d.fields = m
	return nil
}

// ErrNotObject is returned by DecodeObject for any JSON value other than an
// object.
var ErrNotObject = errors.New("json value is not an object")

// DecodeObject decodes b as exactly one JSON object. Numbers are kept as
// json.Number so integers beyond float64 precision survive a round trip.
func DecodeObject(b []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("unexpected data after json object")
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, ErrNotObject
	}
	return m, nil
}

func copyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch vv := v.(type) {
	case map[string]any:
		return copyMap(vv)
	case []any:
		out := make([]any, len(vv))
		for i, item := range vv {
			out[i] = copyValue(item)
		}
		return out
	default:
		return v
	}
}
