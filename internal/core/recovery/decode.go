package recovery

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/kirillkom/research-assistant/internal/core/domain"
)

// Decode coerces captured values into a record shaped by schema. It reports
// false when nothing was captured or when any captured value cannot take its
// declared type. Absent fields get zero values.
func Decode(values map[string]any, schema domain.SchemaDescriptor) (domain.RecoveredRecord, bool) {
	record := schema.Default()
	captured := 0
	for _, field := range schema.Fields {
		raw, ok := lookup(values, field.Name)
		if !ok || raw == nil {
			continue
		}
		value, ok := coerce(raw, field.Type)
		if !ok {
			return nil, false
		}
		record[field.Name] = value
		captured++
	}
	if captured == 0 {
		return nil, false
	}
	return record, true
}

func lookup(values map[string]any, name string) (any, bool) {
	if v, ok := values[name]; ok {
		return v, true
	}
	for key, v := range values {
		if strings.EqualFold(key, name) {
			return v, true
		}
	}
	return nil, false
}

func coerce(raw any, fieldType domain.FieldType) (any, bool) {
	switch fieldType {
	case domain.FieldString:
		return coerceString(raw)
	case domain.FieldBool:
		return coerceBool(raw)
	case domain.FieldInt:
		return coerceInt(raw)
	case domain.FieldFloat:
		return coerceFloat(raw)
	case domain.FieldList:
		return coerceList(raw)
	default:
		return nil, false
	}
}

func coerceString(raw any) (any, bool) {
	switch v := raw.(type) {
	case string:
		return unquote(v), true
	case json.Number:
		return v.String(), true
	case bool, float64, int:
		return fmt.Sprint(v), true
	case []string:
		return strings.Join(v, "\n"), true
	case []any:
		items, ok := stringItems(v)
		if !ok {
			return nil, false
		}
		return strings.Join(items, "\n"), true
	default:
		return nil, false
	}
}

var truthy = map[string]bool{"true": true, "yes": true, "1": true}

// coerceBool reads any string outside the truthy set as false. Native JSON
// numbers must be 0 or 1.
func coerceBool(raw any) (any, bool) {
	switch v := raw.(type) {
	case bool:
		return v, true
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return nil, false
		}
		return coerceBool(f)
	case float64:
		if v == 1 {
			return true, true
		}
		if v == 0 {
			return false, true
		}
		return nil, false
	case string:
		return truthy[strings.ToLower(scalar(v))], true
	default:
		return nil, false
	}
}

func coerceInt(raw any) (any, bool) {
	switch v := raw.(type) {
	case int:
		return v, true
	case json.Number:
		return coerceInt(v.String())
	case float64:
		if v != math.Trunc(v) || math.IsInf(v, 0) || math.IsNaN(v) {
			return nil, false
		}
		return int(v), true
	case string:
		token := scalar(v)
		if n, err := strconv.Atoi(token); err == nil {
			return n, true
		}
		if f, err := strconv.ParseFloat(token, 64); err == nil {
			return coerceInt(f)
		}
		return nil, false
	default:
		return nil, false
	}
}

func coerceFloat(raw any) (any, bool) {
	switch v := raw.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case json.Number:
		return coerceFloat(v.String())
	case string:
		f, err := strconv.ParseFloat(scalar(v), 64)
		if err != nil || math.IsInf(f, 0) || math.IsNaN(f) {
			return nil, false
		}
		return f, true
	default:
		return nil, false
	}
}

func coerceList(raw any) (any, bool) {
	switch v := raw.(type) {
	case []string:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if item = unquote(item); item != "" {
				out = append(out, item)
			}
		}
		return out, true
	case []any:
		items, ok := stringItems(v)
		if !ok {
			return nil, false
		}
		return items, true
	case string:
		text := strings.TrimSpace(v)
		if strings.HasPrefix(text, "[") {
			var decoded []any
			if err := json.Unmarshal([]byte(text), &decoded); err == nil {
				return coerceList(decoded)
			}
			text = strings.Trim(text, "[]")
		}
		out := []string{}
		for _, part := range strings.Split(text, ",") {
			if part = unquote(part); part != "" {
				out = append(out, part)
			}
		}
		return out, true
	default:
		return nil, false
	}
}

func stringItems(items []any) ([]string, bool) {
	out := make([]string, 0, len(items))
	for _, item := range items {
		switch v := item.(type) {
		case string:
			if s := unquote(v); s != "" {
				out = append(out, s)
			}
		case json.Number:
			out = append(out, v.String())
		case float64, bool:
			out = append(out, fmt.Sprint(v))
		default:
			return nil, false
		}
	}
	return out, true
}

// unquote trims whitespace and one pair of matching quotes or backticks.
func unquote(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, ",")
	s = strings.TrimSpace(s)
	if len(s) >= 2 {
		first, last := s[0], s[len(s)-1]
		if (first == '"' || first == '\'' || first == '`') && first == last {
			s = strings.TrimSpace(s[1 : len(s)-1])
		}
	}
	return s
}

// scalar normalizes a token for bool and number parsing.
func scalar(s string) string {
	s = unquote(s)
	s = strings.TrimRight(s, ".;!*")
	s = strings.TrimLeft(s, "*")
	return strings.TrimSpace(s)
}
