// Package recovery rebuilds typed records from free-form model output.
//
// Parse runs a fixed cascade of extraction strategies and returns the first
// result that validates against the caller's schema. It never fails: when no
// strategy validates, the schema's zero-valued record is returned.
package recovery

import (
	"github.com/kirillkom/research-assistant/internal/core/domain"
)

const (
	StrategyJSON      = "json"
	StrategyKeyValue  = "key_value"
	StrategyMarkdown  = "markdown"
	StrategyProximity = "proximity"
	StrategyDefault   = "default"
	// StrategyNative marks records returned already typed by the completer.
	StrategyNative = "native"
)

type Result struct {
	Record   domain.RecoveredRecord
	Strategy string
}

// Recovered reports whether a strategy other than the default fallback matched.
func (r Result) Recovered() bool {
	return r.Strategy != StrategyDefault
}

// extractor returns raw captured values keyed by schema field name.
type extractor func(text string, schema domain.SchemaDescriptor) map[string]any

type strategy struct {
	name    string
	extract extractor
}

var cascade = []strategy{
	{name: StrategyJSON, extract: extractJSON},
	{name: StrategyKeyValue, extract: extractKeyValue},
	{name: StrategyMarkdown, extract: extractMarkdown},
	{name: StrategyProximity, extract: extractProximity},
}

func Parse(text string, schema domain.SchemaDescriptor) Result {
	for _, s := range cascade {
		captured := safeExtract(s.extract, text, schema)
		if len(captured) == 0 {
			continue
		}
		if record, ok := Decode(captured, schema); ok {
			return Result{Record: record, Strategy: s.name}
		}
	}
	return Result{Record: schema.Default(), Strategy: StrategyDefault}
}

func safeExtract(fn extractor, text string, schema domain.SchemaDescriptor) (out map[string]any) {
	defer func() {
		if recover() != nil {
			out = nil
		}
	}()
	return fn(text, schema)
}
