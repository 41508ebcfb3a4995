package parsers

import (
	"strings"
)

const fence = "```"

// StripFences returns the body of the first markdown code fence in s. Fences
// tagged json (or untagged) are preferred over fences tagged with another
// language. An unterminated fence yields everything after its opening line.
// Text without a fence is returned trimmed. A leading UTF-8 BOM is dropped.
func StripFences(s string) (string, bool) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "\ufeff")

	var fallback string
	found := false
	rest := s
	for {
		start := strings.Index(rest, fence)
		if start < 0 {
			break
		}
		body, tag, tail := splitFence(rest[start+len(fence):])
		if tag == "" || strings.EqualFold(tag, "json") {
			return strings.TrimSpace(body), true
		}
		if !found {
			fallback, found = body, true
		}
		rest = tail
	}
	if found {
		return strings.TrimSpace(fallback), true
	}
	return strings.TrimSpace(s), false
}

// splitFence splits the text following an opening fence marker into the fence
// body, its language tag and the text after the closing marker.
func splitFence(after string) (body, tag, tail string) {
	line := after
	if nl := strings.IndexByte(after, '\n'); nl >= 0 {
		line = after[:nl]
	}
	trimmed := strings.TrimSpace(line)

	switch {
	case strings.ContainsAny(trimmed, "{["):
		// content on the opening line, e.g. ```json {"a":1}```
		body = strings.TrimLeft(after, " \t")
		if len(body) >= 4 && strings.EqualFold(body[:4], "json") {
			body = body[4:]
		}
	default:
		tag = trimmed
		body = after[len(line):]
	}

	if end := strings.Index(body, fence); end >= 0 {
		return body[:end], tag, body[end+len(fence):]
	}
	return body, tag, ""
}

// SliceObject narrows s to the span from the first '{' to the last '}',
// discarding prose around a JSON object. When no closing brace follows the
// opening one the text is assumed truncated and kept up to its end.
func SliceObject(s string) (string, bool) {
	first := strings.IndexByte(s, '{')
	if first < 0 {
		return "", false
	}
	last := strings.LastIndexByte(s, '}')
	if last < first {
		return s[first:], true
	}
	return s[first : last+1], true
}

// BalancedObject returns the first brace-balanced object in s, ignoring
// braces inside string literals.
func BalancedObject(s string) (string, bool) {
	first := strings.IndexByte(s, '{')
	if first < 0 {
		return "", false
	}
	var (
		sc    scanner
		depth int
	)
	for i := first; i < len(s); i++ {
		c := s[i]
		if !sc.step(c) {
			continue
		}
		switch c {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[first : i+1], true
			}
		}
	}
	return "", false
}

// scanner walks JSON-ish text tracking whether it is inside a string literal.
type scanner struct {
	inString bool
	escaped  bool
}

// step consumes c and reports whether c is structural (outside a string).
func (sc *scanner) step(c byte) bool {
	if sc.inString {
		switch {
		case sc.escaped:
			sc.escaped = false
		case c == '\\':
			sc.escaped = true
		case c == '"':
			sc.inString = false
		}
		return false
	}
	if c == '"' {
		sc.inString = true
		return false
	}
	return true
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

// RemoveTrailingCommas drops commas that are followed only by whitespace and
// a closing bracket, or by the end of the text. Commas inside strings stay.
func RemoveTrailingCommas(s string) string {
	var (
		b  strings.Builder
		sc scanner
	)
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if sc.step(c) && c == ',' {
			j := i + 1
			for j < len(s) && isSpace(s[j]) {
				j++
			}
			if j == len(s) || s[j] == '}' || s[j] == ']' {
				continue
			}
		}
		b.WriteByte(c)
	}
	return b.String()
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}

// QuoteBareKeys turns {key: 1} into {"key": 1}. Only identifiers directly
// after '{' or ',' and followed by ':' are quoted, so bare literals such as
// true or null in arrays are untouched.
func QuoteBareKeys(s string) string {
	var (
		b  strings.Builder
		sc scanner
	)
	b.Grow(len(s) + 16)
	for i := 0; i < len(s); i++ {
		c := s[i]
		structural := sc.step(c)
		b.WriteByte(c)
		if !structural || (c != '{' && c != ',') {
			continue
		}

		j := i + 1
		for j < len(s) && isSpace(s[j]) {
			j++
		}
		if j >= len(s) || !isIdentStart(s[j]) {
			continue
		}
		k := j
		for k < len(s) && isIdentPart(s[k]) {
			k++
		}
		colon := k
		for colon < len(s) && isSpace(s[colon]) {
			colon++
		}
		if colon >= len(s) || s[colon] != ':' {
			continue
		}
		b.WriteString(s[i+1 : j])
		b.WriteByte('"')
		b.WriteString(s[j:k])
		b.WriteByte('"')
		i = k - 1
	}
	return b.String()
}

// CloseBrackets completes a truncated structure: it closes an unterminated
// string, fills a dangling ':' with null and appends the missing '}' / ']'
// in nesting order.
func CloseBrackets(s string) string {
	var (
		stack []byte
		sc    scanner
	)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !sc.step(c) {
			continue
		}
		switch c {
		case '{':
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			if n := len(stack); n > 0 && stack[n-1] == c {
				stack = stack[:n-1]
			}
		}
	}
	if !sc.inString && len(stack) == 0 {
		return s
	}

	out := s
	if sc.inString {
		if sc.escaped {
			out = out[:len(out)-1]
		}
		out += `"`
	}
	trimmed := strings.TrimRight(out, " \t\r\n")
	switch {
	case strings.HasSuffix(trimmed, ":"):
		out = trimmed + "null"
	case strings.HasSuffix(trimmed, ","):
		out = trimmed[:len(trimmed)-1]
	}

	var b strings.Builder
	b.Grow(len(out) + len(stack))
	b.WriteString(out)
	for i := len(stack) - 1; i >= 0; i-- {
		b.WriteByte(stack[i])
	}
	return b.String()
}

// RepairCommon applies the common-mistake fixes in order.
func RepairCommon(s string) string {
	return CloseBrackets(QuoteBareKeys(RemoveTrailingCommas(s)))
}
