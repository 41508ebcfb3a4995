// Package parsers recovers structured documents from raw model output.
package parsers

import (
	"fmt"

	"github.com/coursegen-core/server/internal/agent/model"
	errx "github.com/coursegen-core/server/internal/core/error"
	logx "github.com/coursegen-core/server/pkg/logger"
)

// maxContentLen bounds the raw text the extractor will look at.
const maxContentLen = 4 * 1024 * 1024

// ReasonTooLarge is the extraction reason for oversized responses.
const ReasonTooLarge = "input-too-large"

// Stage names the fallback that produced the document.
type Stage string

const (
	StageDirect   Stage = "direct"
	StageSlice    Stage = "slice"
	StageBalanced Stage = "balanced"
	StageRepair   Stage = "repair"
)

// Result describes a successful extraction.
type Result struct {
	Document model.Document
	Stage    Stage
	Fenced   bool
}

// ParseObject decodes s as a single JSON object, keeping numbers exact.
func ParseObject(s string) (map[string]any, error) {
	return model.DecodeObject([]byte(s))
}

// Extract runs the fallback chain and validates the result against schema.
func Extract(raw string, schema model.Schema) (model.Document, error) {
	res, err := ExtractWithTrace(raw, schema)
	if err != nil {
		return model.Document{}, err
	}
	return res.Document, nil
}

// ExtractWithTrace is Extract that also reports which stage succeeded.
//
// Order of attempts: strip code fences, parse directly, slice to the outer
// braces, take the first balanced object, repair common mistakes. Anything still
// unparseable fails with reason "unparseable"; a parsed object missing
// required keys fails with a schema mismatch rather than passing on partial
// data.
func ExtractWithTrace(raw string, schema model.Schema) (res Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			logx.Error().Str("component", "extractor").Msgf("panic recovered: %v", r)
			res = Result{}
			err = errx.ExtractionFailed(fmt.Sprintf("panic: %v", r))
		}
	}()

	if len(raw) > maxContentLen {
		logx.Warn().
			Str("component", "extractor").
			Int("max_len", maxContentLen).
			Int("orig_len", len(raw)).
			Msg("model output over size limit")
		return Result{}, errx.ExtractionFailed(ReasonTooLarge)
	}

	text, fenced := StripFences(raw)
	fields, stage, ok := parseChain(text)
	if !ok {
		logx.Debug().
			Str("component", "extractor").
			Bool("fenced", fenced).
			Str("snippet", snippet(text)).
			Msg("model output unparseable")
		return Result{}, errx.ExtractionFailed(errx.ReasonUnparseable)
	}

	doc := model.NewDocument(fields)
	if missing := schema.Missing(doc); len(missing) > 0 {
		return Result{}, errx.SchemaMismatch(missing)
	}

	logx.Debug().
		Str("component", "extractor").
		Str("stage", string(stage)).
		Bool("fenced", fenced).
		Int("keys", doc.Len()).
		Msg("model output extracted")
	return Result{Document: doc, Stage: stage, Fenced: fenced}, nil
}

func parseChain(text string) (map[string]any, Stage, bool) {
	if m, err := ParseObject(text); err == nil {
		return m, StageDirect, true
	}
	sliced, ok := SliceObject(text)
	if !ok {
		return nil, "", false
	}
	if m, err := ParseObject(sliced); err == nil {
		return m, StageSlice, true
	}
	balanced, hasBalanced := BalancedObject(sliced)
	if hasBalanced {
		if m, err := ParseObject(balanced); err == nil {
			return m, StageBalanced, true
		}
	}

	// repair candidates: the whole slice, the balanced object, then the
	// balanced object of the repaired slice
	repaired := RepairCommon(sliced)
	candidates := []string{repaired}
	if hasBalanced {
		candidates = append(candidates, RepairCommon(balanced))
	}
	if b, ok := BalancedObject(repaired); ok {
		candidates = append(candidates, b)
	}
	for _, c := range candidates {
		if m, err := ParseObject(c); err == nil {
			return m, StageRepair, true
		}
	}
	return nil, "", false
}

const maxSnippet = 200

func snippet(s string) string {
	if len(s) <= maxSnippet {
		return s
	}
	return s[:maxSnippet]
}
