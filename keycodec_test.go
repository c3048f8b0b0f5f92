package odm

import "testing"

func TestStorageKeyRoundTrip(t *testing.T) {
	opts := DefaultSchemaOptions()
	opts.KeyPrefix = "user::"
	s := NewSchema(opts)
	s.AddField(&FieldDescriptor{Name: "id", Kind: KindString, Key: true, Generate: true})
	if err := s.compile(); err != nil {
		t.Fatalf("compile: %v", err)
	}

	stored, err := storageKey(s, "abc123")
	if err != nil {
		t.Fatalf("storageKey: %v", err)
	}
	if stored != "user::abc123" {
		t.Fatalf("expected %q, got %q", "user::abc123", stored)
	}

	back, err := userKeyFromStorage(s, stored)
	if err != nil {
		t.Fatalf("userKeyFromStorage: %v", err)
	}
	if back != "abc123" {
		t.Fatalf("expected round trip to recover %q, got %q", "abc123", back)
	}
}

func TestStorageKeyRejectsDelimiterInValue(t *testing.T) {
	s := NewSchema(DefaultSchemaOptions())
	s.AddField(&FieldDescriptor{Name: "id", Kind: KindString, Key: true, Generate: true})
	s.compile()

	if _, err := storageKey(s, "has_delim"); err == nil {
		t.Fatalf("expected ErrInvalidKey for a key containing the schema delimiter")
	}
}

func TestRefKeyDerivation(t *testing.T) {
	s := NewSchema(DefaultSchemaOptions())
	s.AddField(&FieldDescriptor{Name: "id", Kind: KindString, Key: true, Generate: true})
	s.AddField(&FieldDescriptor{Name: "email", Kind: KindString, Index: true})
	s.compile()

	key, err := refKey(s, "email", "a@example.com")
	if err != nil {
		t.Fatalf("refKey: %v", err)
	}
	want := "$_ref_by_email_a@example.com"
	if key != want {
		t.Fatalf("expected %q, got %q", want, key)
	}
}

func TestRefKeyUsesSchemaWideAffixesNotFieldOverride(t *testing.T) {
	opts := DefaultSchemaOptions()
	opts.KeyPrefix = "user::"
	opts.Delimiter = "::"
	s := NewSchema(opts)
	fieldPrefix := "acct::"
	s.AddField(&FieldDescriptor{Name: "id", Kind: KindString, Key: true, Generate: true, Prefix: &fieldPrefix})
	s.AddField(&FieldDescriptor{Name: "email", Kind: KindString, Index: true})
	s.compile()

	key, err := refKey(s, "email", "a@b")
	if err != nil {
		t.Fatalf("refKey: %v", err)
	}
	want := "user::$_ref_by_email::a@b"
	if key != want {
		t.Fatalf("expected %q, got %q", want, key)
	}
}

func TestIndexedValueSetScalarAndArray(t *testing.T) {
	if got := indexedValueSet("x"); len(got) != 1 || got[0] != "x" {
		t.Fatalf("expected single-element set for scalar, got %v", got)
	}
	if got := indexedValueSet([]interface{}{"a", "b"}); len(got) != 2 {
		t.Fatalf("expected two-element set for array, got %v", got)
	}
	if got := indexedValueSet(nil); got != nil {
		t.Fatalf("expected nil set for nil value, got %v", got)
	}
}
