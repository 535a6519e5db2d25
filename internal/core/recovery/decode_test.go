package recovery

import (
	"encoding/json"
	"reflect"
	"testing"

	"github.com/kirillkom/research-assistant/internal/core/domain"
)

func TestDecodeCoercesNativeValues(t *testing.T) {
	schema := domain.NewSchema(
		domain.SchemaField{Name: "name", Type: domain.FieldString},
		domain.SchemaField{Name: "ok", Type: domain.FieldBool},
		domain.SchemaField{Name: "n", Type: domain.FieldInt},
		domain.SchemaField{Name: "score", Type: domain.FieldFloat},
		domain.SchemaField{Name: "items", Type: domain.FieldList},
	)
	record, ok := Decode(map[string]any{
		"Name":  "alpha",
		"ok":    "Yes",
		"n":     json.Number("7"),
		"score": float64(2),
		"items": `["a", "b"]`,
	}, schema)
	if !ok {
		t.Fatalf("expected record to decode")
	}
	if record.String("name") != "alpha" || !record.Bool("ok") {
		t.Fatalf("unexpected name/ok: %+v", record)
	}
	if record.Int("n") != 7 || record.Float("score") != 2.0 {
		t.Fatalf("unexpected numbers: %+v", record)
	}
	if !reflect.DeepEqual(record.List("items"), []string{"a", "b"}) {
		t.Fatalf("unexpected items %v", record.List("items"))
	}
}

func TestDecodeRejects(t *testing.T) {
	schema := domain.NewSchema(
		domain.SchemaField{Name: "n", Type: domain.FieldInt},
		domain.SchemaField{Name: "ok", Type: domain.FieldBool},
	)

	if _, ok := Decode(map[string]any{}, schema); ok {
		t.Fatalf("expected rejection when nothing was captured")
	}
	if _, ok := Decode(map[string]any{"n": "2.5"}, schema); ok {
		t.Fatalf("expected rejection of fractional int")
	}
	if _, ok := Decode(map[string]any{"ok": float64(2)}, schema); ok {
		t.Fatalf("expected rejection of numeric bool outside 0/1")
	}
}

func TestDecodeBoolTextOutsideTruthySetIsFalse(t *testing.T) {
	schema := domain.NewSchema(
		domain.SchemaField{Name: "title", Type: domain.FieldString},
		domain.SchemaField{Name: "ok", Type: domain.FieldBool},
	)
	for _, token := range []string{"probably", "maybe", "no", "none", "N/A", "2"} {
		record, ok := Decode(map[string]any{"title": "kept", "ok": token}, schema)
		if !ok {
			t.Fatalf("Decode() rejected bool token %q", token)
		}
		if record.Bool("ok") {
			t.Fatalf("expected %q to read as false", token)
		}
		if record.String("title") != "kept" {
			t.Fatalf("expected title kept alongside %q, got %q", token, record.String("title"))
		}
	}
	for _, token := range []string{"true", "YES", "1", "**yes**."} {
		record, ok := Decode(map[string]any{"ok": token}, schema)
		if !ok || !record.Bool("ok") {
			t.Fatalf("expected %q to read as true", token)
		}
	}
}

func TestCoerceListFromCommaText(t *testing.T) {
	got, ok := coerceList(" one, 'two' ,, three ")
	if !ok {
		t.Fatalf("expected list to coerce")
	}
	if !reflect.DeepEqual(got, []string{"one", "two", "three"}) {
		t.Fatalf("unexpected list %v", got)
	}
}
