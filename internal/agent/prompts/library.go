// Package prompts loads prompt templates and fills their {{ name }} placeholders.
package prompts

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"

	"github.com/coursegen-core/server/internal/agent/model"
	errx "github.com/coursegen-core/server/internal/core/error"
	logx "github.com/coursegen-core/server/pkg/logger"
)

const templateExt = ".txt"

var placeholderPattern = regexp.MustCompile(`\{\{\s*([A-Za-z_][A-Za-z0-9_.\-]*)\s*\}\}`)

// Library resolves template keys to files under a root and caches their text
// for the life of the process. The cache never evicts.
type Library struct {
	fsys fs.FS

	mu    sync.RWMutex
	cache map[string]string
}

// NewLibrary serves templates from fsys.
func NewLibrary(fsys fs.FS) *Library {
	return &Library{fsys: fsys, cache: make(map[string]string)}
}

// NewDirLibrary serves templates from a directory on disk.
func NewDirLibrary(dir string) *Library {
	return NewLibrary(os.DirFS(dir))
}

func templatePath(key string) (string, bool) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", false
	}
	p := key
	if !strings.HasSuffix(p, templateExt) {
		p += templateExt
	}
	return p, fs.ValidPath(p)
}

// Template returns the raw text for key.
func (l *Library) Template(key string) (string, error) {
	l.mu.RLock()
	text, ok := l.cache[key]
	l.mu.RUnlock()
	if ok {
		return text, nil
	}

	path, valid := templatePath(key)
	if !valid {
		return "", errx.TemplateNotFound(key)
	}
	b, err := fs.ReadFile(l.fsys, path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", errx.TemplateNotFound(key)
		}
		return "", fmt.Errorf("read prompt template %q: %w", key, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if cached, ok := l.cache[key]; ok {
		return cached, nil
	}
	text = string(b)
	l.cache[key] = text
	logx.Debug().Str("template", key).Int("bytes", len(text)).Msg("prompt template loaded")
	return text, nil
}

// Placeholders lists the distinct placeholder names used by key, sorted.
func (l *Library) Placeholders(key string) ([]string, error) {
	text, err := l.Template(key)
	if err != nil {
		return nil, err
	}
	return Placeholders(text), nil
}

// Render loads key and substitutes vars. The result goes through the eino
// prompt component so registered prompt callbacks observe it.
func (l *Library) Render(ctx context.Context, key string, vars model.Variables) (string, error) {
	text, err := l.Template(key)
	if err != nil {
		return "", err
	}
	content, err := Substitute(key, text, vars)
	if err != nil {
		return "", err
	}

	tpl := prompt.FromMessages(
		schema.FString,
		schema.MessagesPlaceholder("prompt_messages", false),
	)
	msgs, err := tpl.Format(ctx, map[string]any{
		"prompt_messages": []*schema.Message{schema.UserMessage(content)},
	})
	if err != nil {
		return "", fmt.Errorf("prompt %q callbacks: %w", key, err)
	}
	if len(msgs) == 0 || msgs[0] == nil {
		return "", fmt.Errorf("prompt %q callbacks: empty result", key)
	}
	return msgs[0].Content, nil
}

// Placeholders lists the distinct placeholder names in text, sorted.
func Placeholders(text string) []string {
	seen := map[string]struct{}{}
	for _, m := range placeholderPattern.FindAllStringSubmatch(text, -1) {
		seen[m[1]] = struct{}{}
	}
	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Substitute fills every placeholder in text from vars. It is strict: if any
// placeholder has no variable the whole render fails with MissingVariable.
// Values are inserted verbatim and never re-scanned.
func Substitute(key, text string, vars model.Variables) (string, error) {
	matches := placeholderPattern.FindAllStringSubmatchIndex(text, -1)
	if len(matches) == 0 {
		return text, nil
	}

	var (
		b       strings.Builder
		missing []string
		last    int
	)
	b.Grow(len(text))
	for _, m := range matches {
		name := text[m[2]:m[3]]
		val, ok := vars[name]
		if !ok {
			missing = append(missing, name)
			continue
		}
		b.WriteString(text[last:m[0]])
		b.WriteString(val)
		last = m[1]
	}
	if len(missing) > 0 {
		return "", errx.MissingVariable(key, missing)
	}
	b.WriteString(text[last:])
	return b.String(), nil
}
