package render

import (
	"fmt"
	"io"
	"regexp"
	"sort"

	"github.com/nguyenthenguyen/docx"

	logx "github.com/coursegen-core/server/pkg/logger"
)

var docxPlaceholder = regexp.MustCompile(`\{\{\s*([A-Za-z_][A-Za-z0-9_.\[\]\-]*)\s*\}\}`)

// DocxRenderer fills {{key}} placeholders in a Word template. Placeholders
// must sit in a single text run to be found.
type DocxRenderer struct {
	Template string
	// LogoPath replaces the template's first image when set.
	LogoPath string
}

func NewDocxRenderer(template string) *DocxRenderer {
	return &DocxRenderer{Template: template}
}

// Render writes the filled document to w. Placeholders with no value are
// left in place and logged.
func (r *DocxRenderer) Render(values map[string]string, w io.Writer) error {
	doc, err := docx.ReadDocxFile(r.Template)
	if err != nil {
		return fmt.Errorf("open docx template %s: %w", r.Template, err)
	}
	defer doc.Close()

	editable := doc.Editable()
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		old := "{{" + k + "}}"
		if err := editable.Replace(old, values[k], -1); err != nil {
			return fmt.Errorf("replace %s: %w", k, err)
		}
		if err := editable.ReplaceHeader(old, values[k]); err != nil {
			return fmt.Errorf("replace header %s: %w", k, err)
		}
		if err := editable.ReplaceFooter(old, values[k]); err != nil {
			return fmt.Errorf("replace footer %s: %w", k, err)
		}
	}
	if r.LogoPath != "" && editable.ImagesLen() > 0 {
		if err := editable.ReplaceImage("word/media/image1.png", r.LogoPath); err != nil {
			logx.Warn().Err(err).Str("logo", r.LogoPath).Msg("failed to replace logo")
		}
	}

	if left := Unresolved(editable.GetContent()); len(left) > 0 {
		logx.Warn().Strs("placeholders", left).Str("template", r.Template).Msg("docx placeholders without value")
	}
	if err := editable.Write(w); err != nil {
		return fmt.Errorf("write docx: %w", err)
	}
	return nil
}

// Unresolved lists the distinct placeholder keys remaining in text, sorted.
func Unresolved(text string) []string {
	seen := map[string]struct{}{}
	for _, m := range docxPlaceholder.FindAllStringSubmatch(text, -1) {
		seen[m[1]] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
