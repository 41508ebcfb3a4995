package model

import (
	"encoding/json"
	"sort"
)

// Variables maps placeholder names to their substitution text.
type Variables map[string]string

// Clone returns an independent copy.
func (v Variables) Clone() Variables {
	out := make(Variables, len(v))
	for k, val := range v {
		out[k] = val
	}
	return out
}

// Names returns the variable names in sorted order.
func (v Variables) Names() []string {
	names := make([]string, 0, len(v))
	for k := range v {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// MergeDocument overlays the top-level keys of doc onto v, and also exposes
// the whole document under name when name is not empty. Strings are inserted
// as-is; any other value is JSON encoded.
func (v Variables) MergeDocument(name string, doc Document) Variables {
	out := v.Clone()
	for _, key := range doc.Keys() {
		val, _ := doc.Get(key)
		out[key] = stringify(val)
	}
	if name != "" {
		b, err := doc.MarshalJSON()
		if err == nil {
			out[name] = string(b)
		}
	}
	return out
}

func stringify(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}
