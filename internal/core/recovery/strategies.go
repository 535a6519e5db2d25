package recovery

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/kirillkom/research-assistant/internal/core/domain"
)

// One level of nested braces, matching the shape models usually emit.
var jsonObjectPattern = regexp.MustCompile(`(?s)\{[^{}]*(?:\{[^{}]*\}[^{}]*)*\}`)

func extractJSON(text string, _ domain.SchemaDescriptor) map[string]any {
	span := jsonObjectPattern.FindString(text)
	if span == "" {
		return nil
	}
	decoder := json.NewDecoder(bytes.NewReader([]byte(span)))
	decoder.UseNumber()
	var out map[string]any
	if err := decoder.Decode(&out); err != nil {
		return nil
	}
	return out
}

// fieldPattern matches a field name case-insensitively, letting underscores
// also match spaces or dashes ("refined text", "refined-text").
func fieldPattern(name string) string {
	parts := strings.Split(strings.TrimSpace(name), "_")
	for i, part := range parts {
		parts[i] = regexp.QuoteMeta(part)
	}
	return strings.Join(parts, `[_ \-]`)
}

func keyValuePatterns(name string) []*regexp.Regexp {
	field := fieldPattern(name)
	return []*regexp.Regexp{
		regexp.MustCompile(`(?i)"` + field + `"\s*:\s*"([^"]*)"`),
		regexp.MustCompile(`(?i)"` + field + `"\s*:\s*([^,\s}]+)`),
		regexp.MustCompile(`(?i)\b` + field + `\b\**[ \t]*:[ \t]*([^\n]+)`),
		regexp.MustCompile(`(?i)\b` + field + `\b[ \t]*=[ \t]*([^\n]+)`),
	}
}

func extractKeyValue(text string, schema domain.SchemaDescriptor) map[string]any {
	out := make(map[string]any)
	for _, field := range schema.Fields {
		for _, pattern := range keyValuePatterns(field.Name) {
			match := pattern.FindStringSubmatch(text)
			if match == nil {
				continue
			}
			value := strings.TrimSpace(match[1])
			if value == "" {
				continue
			}
			out[field.Name] = value
			break
		}
	}
	return out
}

var (
	headingPattern = regexp.MustCompile(`^#+\s*(.+?)\s*:?\s*$`)
	bulletPattern  = regexp.MustCompile(`^(?:[-*•]|\d+[.)])\s+(.+)$`)
)

func extractMarkdown(text string, schema domain.SchemaDescriptor) map[string]any {
	labels := make([]*regexp.Regexp, len(schema.Fields))
	for i, field := range schema.Fields {
		labels[i] = regexp.MustCompile(`(?i)^\**` + fieldPattern(field.Name) + `\**\s*:\**\s*(.*)$`)
	}

	inline := make(map[string]string)
	bullets := make(map[string][]string)
	current := ""

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if m := headingPattern.FindStringSubmatch(line); m != nil {
			if field, ok := matchFieldName(schema, m[1]); ok {
				current = field
			}
			continue
		}

		if m := bulletPattern.FindStringSubmatch(line); m != nil {
			if current != "" {
				bullets[current] = append(bullets[current], strings.TrimSpace(m[1]))
			}
			continue
		}

		for i, label := range labels {
			m := label.FindStringSubmatch(line)
			if m == nil {
				continue
			}
			name := schema.Fields[i].Name
			current = name
			if value := strings.TrimSpace(m[1]); value != "" {
				inline[name] = value
			}
			break
		}
	}

	out := make(map[string]any)
	for _, field := range schema.Fields {
		value, hasInline := inline[field.Name]
		items := bullets[field.Name]
		switch {
		case field.Type == domain.FieldList && len(items) > 0:
			if hasInline {
				items = append([]string{value}, items...)
			}
			out[field.Name] = items
		case hasInline:
			out[field.Name] = value
		case len(items) > 0:
			out[field.Name] = items
		}
	}
	return out
}

func matchFieldName(schema domain.SchemaDescriptor, heading string) (string, bool) {
	heading = strings.Trim(strings.TrimSpace(heading), "*_ ")
	normalized := strings.NewReplacer(" ", "_", "-", "_").Replace(strings.ToLower(heading))
	for _, field := range schema.Fields {
		if strings.HasPrefix(normalized, strings.ToLower(field.Name)) {
			return field.Name, true
		}
	}
	return "", false
}

const proximityWindow = 50

func extractProximity(text string, schema domain.SchemaDescriptor) map[string]any {
	out := make(map[string]any)
	for _, field := range schema.Fields {
		pattern := fieldPattern(field.Name)
		loc := regexp.MustCompile(`(?i)` + pattern).FindStringIndex(text)
		if loc == nil {
			continue
		}
		start := runeFloor(text, loc[0]-proximityWindow)
		end := runeCeil(text, loc[1]+proximityWindow)
		window := text[start:end]

		m := regexp.MustCompile(`(?i)` + pattern + `[:\s]+([^\n,;]+)`).FindStringSubmatch(window)
		if m == nil {
			continue
		}
		if value := strings.TrimSpace(m[1]); value != "" {
			out[field.Name] = value
		}
	}
	return out
}

func runeFloor(s string, i int) int {
	if i <= 0 {
		return 0
	}
	for i > 0 && !utf8.RuneStart(s[i]) {
		i--
	}
	return i
}

func runeCeil(s string, i int) int {
	if i >= len(s) {
		return len(s)
	}
	for i < len(s) && !utf8.RuneStart(s[i]) {
		i++
	}
	return i
}
