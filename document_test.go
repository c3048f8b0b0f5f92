package odm

import (
	"strings"
	"testing"
	"time"
)

func newTestSchema() *Schema {
	s := NewSchema(DefaultSchemaOptions())
	s.AddField(&FieldDescriptor{Name: "id", Kind: KindString, Key: true, Generate: true})
	s.AddField(&FieldDescriptor{Name: "name", Kind: KindString})
	s.AddField(&FieldDescriptor{Name: "age", Kind: KindNumber})
	return s
}

func TestDocumentSetAndGet(t *testing.T) {
	doc := NewDocument(newTestSchema())
	doc.Set("name", "ada")
	doc.Set("age", "36")
	if got := doc.Get("name"); got != "ada" {
		t.Fatalf("expected name %q, got %v", "ada", got)
	}
	if got := doc.Get("age"); got != 36.0 {
		t.Fatalf("expected age 36, got %v", got)
	}
	if doc.HasErrors() {
		t.Fatalf("unexpected set errors: %v", doc.Errors())
	}
}

func TestDocumentSetRecordsErrorOnBadTypecast(t *testing.T) {
	doc := NewDocument(newTestSchema())
	doc.Set("age", "not-a-number")
	if !doc.HasErrors() {
		t.Fatalf("expected a set-error for an unparseable number")
	}
	if _, ok := doc.Errors()["age"]; !ok {
		t.Fatalf("expected set-error keyed by field name %q", "age")
	}
}

func TestDocumentSetUnknownFieldRecordsError(t *testing.T) {
	doc := NewDocument(newTestSchema())
	doc.Set("nope", 1)
	if !doc.HasErrors() {
		t.Fatalf("expected a set-error for an unknown field")
	}
}

func TestDocumentToObjectMinimizesZeroValues(t *testing.T) {
	doc := NewDocument(newTestSchema())
	doc.Set("name", "")
	plain := doc.ToObject(ToObjectOptions{})
	if _, present := plain["name"]; present {
		t.Fatalf("expected empty string field to be minimized out, got %v", plain)
	}
}

func TestDocumentToObjectInvisibleAlwaysDropped(t *testing.T) {
	s := NewSchema(DefaultSchemaOptions())
	s.AddField(&FieldDescriptor{Name: "id", Kind: KindString, Key: true, Generate: true})
	s.AddField(&FieldDescriptor{Name: "secret", Kind: KindString, Invisible: true})
	doc := NewDocument(s)
	doc.Set("secret", "shh")
	plain := doc.ToObject(ToObjectOptions{Minimize: boolPtr(false)})
	if _, present := plain["secret"]; present {
		t.Fatalf("expected invisible field to never appear in ToObject, got %v", plain)
	}
}

func TestDocumentPatchSetsAndUnsets(t *testing.T) {
	doc := NewDocument(newTestSchema())
	doc.Set("name", "ada")
	if err := doc.Patch(map[string]interface{}{
		"age":    30.0,
		"$unset": []string{"name"},
	}); err != nil {
		t.Fatalf("unexpected patch error: %v", err)
	}
	if got := doc.Get("age"); got != 30.0 {
		t.Fatalf("expected age 30, got %v", got)
	}
	if got := doc.Get("name"); got != nil {
		t.Fatalf("expected name unset, got %v", got)
	}
}

func TestDocumentToObjectLeavesDatesAloneByDefault(t *testing.T) {
	s := NewSchema(DefaultSchemaOptions())
	s.AddField(&FieldDescriptor{Name: "id", Kind: KindString, Key: true, Generate: true})
	s.AddField(&FieldDescriptor{Name: "at", Kind: KindDate})
	doc := NewDocument(s)
	when := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	doc.hydrateField("at", when)

	plain := doc.ToObject(ToObjectOptions{})
	if _, ok := plain["at"].(time.Time); !ok {
		t.Fatalf("expected ToObject to leave a KindDate field as time.Time by default, got %T", plain["at"])
	}
}

func TestDocumentToJSONProjectsDatesToRFC3339(t *testing.T) {
	s := NewSchema(DefaultSchemaOptions())
	s.AddField(&FieldDescriptor{Name: "id", Kind: KindString, Key: true, Generate: true})
	s.AddField(&FieldDescriptor{Name: "at", Kind: KindDate})
	doc := NewDocument(s)
	when := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	doc.hydrateField("at", when)

	body, err := doc.ToJSON()
	if err != nil {
		t.Fatalf("ToJSON: %v", err)
	}
	if !strings.Contains(string(body), when.Format(time.RFC3339)) {
		t.Fatalf("expected ToJSON to contain an RFC3339 date, got %s", body)
	}
}

func boolPtr(b bool) *bool { return &b }
