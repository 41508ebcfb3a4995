// Package render feeds generated documents into docx and xlsx templates.
package render

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/coursegen-core/server/internal/agent/model"
)

// Renderer writes values into an output document.
type Renderer interface {
	Render(values map[string]string, w io.Writer) error
}

// Flatten turns a document into placeholder values. Nested objects use dotted
// keys (course.title), list items use indexes (modules[0].name). A list of
// scalars is also available under its own key, one item per line.
func Flatten(doc model.Document) map[string]string {
	out := make(map[string]string)
	flattenValue(out, "", doc.Map())
	return out
}

func flattenValue(out map[string]string, key string, v any) {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			flattenValue(out, joinKey(key, k), t[k])
		}
	case []any:
		lines := make([]string, 0, len(t))
		scalars := true
		for i, item := range t {
			flattenValue(out, fmt.Sprintf("%s[%d]", key, i), item)
			s, ok := scalarString(item)
			if !ok {
				scalars = false
				continue
			}
			lines = append(lines, s)
		}
		if scalars && key != "" {
			out[key] = strings.Join(lines, "\n")
		}
	default:
		if key == "" {
			return
		}
		if s, ok := scalarString(t); ok {
			out[key] = s
			return
		}
		b, _ := json.Marshal(t)
		out[key] = string(b)
	}
}

func joinKey(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}

func scalarString(v any) (string, bool) {
	switch t := v.(type) {
	case nil:
		return "", true
	case string:
		return t, true
	case bool:
		return strconv.FormatBool(t), true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case json.Number:
		return t.String(), true
	case int:
		return strconv.Itoa(t), true
	default:
		return "", false
	}
}

// Merge overlays maps left to right.
func Merge(maps ...map[string]string) map[string]string {
	out := make(map[string]string)
	for _, m := range maps {
		for k, v := range m {
			out[k] = v
		}
	}
	return out
}
