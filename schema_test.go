package odm

import "testing"

func TestSchemaCompileSynthesizesKeyField(t *testing.T) {
	s := NewSchema(DefaultSchemaOptions())
	s.AddField(&FieldDescriptor{Name: "name", Kind: KindString})
	if err := s.compile(); err != nil {
		t.Fatalf("compile: %v", err)
	}
	key := s.KeyField()
	if key == nil || key.Name != "id" {
		t.Fatalf("expected synthesized key field %q, got %+v", "id", key)
	}
	if !key.Generate {
		t.Fatalf("synthesized key field should have Generate=true")
	}
}

func TestSchemaCompileRejectsTwoKeyFields(t *testing.T) {
	s := NewSchema(DefaultSchemaOptions())
	s.AddField(&FieldDescriptor{Name: "a", Kind: KindString, Key: true})
	s.AddField(&FieldDescriptor{Name: "b", Kind: KindString, Key: true})
	if err := s.compile(); err == nil {
		t.Fatalf("expected error for two key fields")
	}
}

func TestSchemaIndexNameDerivation(t *testing.T) {
	s := NewSchema(DefaultSchemaOptions())
	s.AddField(&FieldDescriptor{Name: "id", Kind: KindString, Key: true, Generate: true})
	s.AddField(&FieldDescriptor{Name: "emails", Kind: KindString, Index: true})
	if err := s.compile(); err != nil {
		t.Fatalf("compile: %v", err)
	}
	idx := s.IndexFields()
	if len(idx) != 1 || idx[0].IndexName != "email" {
		t.Fatalf("expected derived index name %q, got %+v", "email", idx)
	}
}

func TestSchemaAddFieldOverrides(t *testing.T) {
	s := NewSchema(DefaultSchemaOptions())
	s.AddField(&FieldDescriptor{Name: "name", Kind: KindString})
	s.AddField(&FieldDescriptor{Name: "name", Kind: KindNumber})
	fd, ok := s.Field("name")
	if !ok || fd.Kind != KindNumber {
		t.Fatalf("expected override to replace field kind, got %+v", fd)
	}
	if len(s.fields) != 1 {
		t.Fatalf("expected override to not duplicate the field, got %d fields", len(s.fields))
	}
}

func TestSchemaExtendCopiesAbsentOnly(t *testing.T) {
	base := NewSchema(DefaultSchemaOptions())
	base.AddField(&FieldDescriptor{Name: "name", Kind: KindString})
	base.AddField(&FieldDescriptor{Name: "age", Kind: KindNumber})

	child := NewSchema(DefaultSchemaOptions())
	child.AddField(&FieldDescriptor{Name: "age", Kind: KindString})
	child.Extend(base)

	if _, ok := child.Field("name"); !ok {
		t.Fatalf("expected Extend to copy absent field %q", "name")
	}
	fd, _ := child.Field("age")
	if fd.Kind != KindString {
		t.Fatalf("expected Extend to leave existing field %q untouched, got kind %v", "age", fd.Kind)
	}
}

func TestEqualDetectsFieldKindMismatch(t *testing.T) {
	a := NewSchema(DefaultSchemaOptions())
	a.AddField(&FieldDescriptor{Name: "name", Kind: KindString})
	b := NewSchema(DefaultSchemaOptions())
	b.AddField(&FieldDescriptor{Name: "name", Kind: KindNumber})
	if Equal(a, b) {
		t.Fatalf("expected schemas with mismatched field kinds to be unequal")
	}
}
