package odm

import (
	"context"
	"strings"
	"testing"

	"github.com/kartikbazzad/bundoc-odm/internal/teststore"
)

func newTestModel(t *testing.T) (*Handle, *Model) {
	t.Helper()
	schema := NewSchema(DefaultSchemaOptions())
	schema.AddField(&FieldDescriptor{Name: "id", Kind: KindString, Key: true, Generate: true})
	schema.AddField(&FieldDescriptor{Name: "email", Kind: KindString, Index: true})
	schema.AddField(&FieldDescriptor{Name: "name", Kind: KindString})

	h := NewHandle(teststore.New(), DefaultHandleOptions())
	m, err := h.Model("users", schema)
	if err != nil {
		t.Fatalf("Model: %v", err)
	}
	return h, m
}

func TestModelSaveAndFindById(t *testing.T) {
	ctx := context.Background()
	_, m := newTestModel(t)

	doc := m.New()
	doc.Set("email", "ada@example.com")
	doc.Set("name", "Ada")
	if err := m.Save(ctx, doc, SaveOptions{}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	id := doc.Get("id").(string)
	result, missing, err := m.FindById(ctx, id, FindOptions{})
	if err != nil {
		t.Fatalf("FindById: %v", err)
	}
	if len(missing) != 0 {
		t.Fatalf("unexpected misses: %v", missing)
	}
	found, ok := result.(*Document)
	if !ok || found == nil {
		t.Fatalf("expected a single *Document, got %v", result)
	}
	if found.Get("name") != "Ada" {
		t.Fatalf("expected name %q, got %v", "Ada", found.Get("name"))
	}
}

func TestModelSaveDetectsConcurrentModification(t *testing.T) {
	ctx := context.Background()
	_, m := newTestModel(t)

	doc := m.New()
	doc.Set("email", "a@example.com")
	if err := m.Save(ctx, doc, SaveOptions{}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	id := doc.Get("id").(string)
	result, _, err := m.FindById(ctx, id, FindOptions{})
	if err != nil {
		t.Fatalf("FindById: %v", err)
	}
	stale := result.(*Document)

	doc.Set("name", "first writer")
	if err := m.Save(ctx, doc, SaveOptions{}); err != nil {
		t.Fatalf("Save (first writer): %v", err)
	}

	stale.Set("name", "second writer")
	if err := m.Save(ctx, stale, SaveOptions{}); err == nil {
		t.Fatalf("expected ErrConcurrentModification from a stale CAS save")
	}
}

func TestModelFindByIndexedField(t *testing.T) {
	ctx := context.Background()
	_, m := newTestModel(t)

	doc := m.New()
	doc.Set("email", "b@example.com")
	doc.Set("name", "Bob")
	if err := m.Save(ctx, doc, SaveOptions{}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	docs, err := m.FindBy(ctx, "email", "b@example.com", FindOptions{})
	if err != nil {
		t.Fatalf("FindBy: %v", err)
	}
	if len(docs) != 1 || docs[0].Get("name") != "Bob" {
		t.Fatalf("expected one match named Bob, got %v", docs)
	}
}

func TestModelFindByReflectsIndexedFieldChange(t *testing.T) {
	ctx := context.Background()
	_, m := newTestModel(t)

	doc := m.New()
	doc.Set("email", "old@example.com")
	doc.Set("name", "Carl")
	if err := m.Save(ctx, doc, SaveOptions{}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	doc.Set("email", "new@example.com")
	if err := m.Save(ctx, doc, SaveOptions{}); err != nil {
		t.Fatalf("Save (update): %v", err)
	}

	if docs, err := m.FindBy(ctx, "email", "old@example.com", FindOptions{}); err != nil || len(docs) != 0 {
		t.Fatalf("expected no matches for the stale email, got %v (err=%v)", docs, err)
	}
	docs, err := m.FindBy(ctx, "email", "new@example.com", FindOptions{})
	if err != nil || len(docs) != 1 {
		t.Fatalf("expected one match for the new email, got %v (err=%v)", docs, err)
	}
}

func TestModelRemoveClearsIndex(t *testing.T) {
	ctx := context.Background()
	_, m := newTestModel(t)

	doc := m.New()
	doc.Set("email", "gone@example.com")
	if err := m.Save(ctx, doc, SaveOptions{}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := m.Remove(ctx, doc, RemoveOptions{}); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	id := doc.Get("id").(string)
	result, missing, err := m.FindById(ctx, id, FindOptions{})
	if err != nil {
		t.Fatalf("FindById: %v", err)
	}
	if result != nil || len(missing) != 1 {
		t.Fatalf("expected the document to be gone, got result=%v missing=%v", result, missing)
	}

	docs, err := m.FindBy(ctx, "email", "gone@example.com", FindOptions{})
	if err != nil || len(docs) != 0 {
		t.Fatalf("expected no index matches after remove, got %v (err=%v)", docs, err)
	}
}

func TestModelRemoveOfAlreadyRemovedDocument(t *testing.T) {
	ctx := context.Background()
	_, m := newTestModel(t)

	doc := m.New()
	doc.Set("email", "x@example.com")
	if err := m.Save(ctx, doc, SaveOptions{}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := m.Remove(ctx, doc, RemoveOptions{}); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := m.Remove(ctx, doc, RemoveOptions{}); err != ErrRemoved {
		t.Fatalf("expected ErrRemoved on second remove, got %v", err)
	}
}

func TestModelStoreFullKeyPersistsAndHydratesBareValue(t *testing.T) {
	ctx := context.Background()
	opts := DefaultSchemaOptions()
	opts.KeyPrefix = "user::"
	opts.StoreFullKey = true
	schema := NewSchema(opts)
	schema.AddField(&FieldDescriptor{Name: "id", Kind: KindString, Key: true, Generate: true})
	schema.AddField(&FieldDescriptor{Name: "name", Kind: KindString})

	st := teststore.New()
	h := NewHandle(st, DefaultHandleOptions())
	m, err := h.Model("users", schema)
	if err != nil {
		t.Fatalf("Model: %v", err)
	}

	doc := m.New()
	doc.Set("id", "abc")
	doc.Set("name", "Ada")
	if err := m.Save(ctx, doc, SaveOptions{}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	item, err := st.Get(ctx, "user::abc")
	if err != nil {
		t.Fatalf("expected the primary document at the full storage key: %v", err)
	}
	if !strings.Contains(string(item.Value), `"user::abc"`) {
		t.Fatalf("expected the stored id field to hold the full storage key, got %s", item.Value)
	}

	result, _, err := m.FindById(ctx, "abc", FindOptions{})
	if err != nil {
		t.Fatalf("FindById: %v", err)
	}
	found, ok := result.(*Document)
	if !ok || found == nil {
		t.Fatalf("expected a single *Document, got %v", result)
	}
	if found.Get("id") != "abc" {
		t.Fatalf("expected the hydrated id to be the bare user key %q, got %v", "abc", found.Get("id"))
	}
}

func TestModelStoreFullReferenceIdUsesStorageKeyAsOwner(t *testing.T) {
	ctx := context.Background()
	opts := DefaultSchemaOptions()
	opts.KeyPrefix = "user::"
	opts.StoreFullReferenceId = true
	schema := NewSchema(opts)
	schema.AddField(&FieldDescriptor{Name: "id", Kind: KindString, Key: true, Generate: true})
	schema.AddField(&FieldDescriptor{Name: "email", Kind: KindString, Index: true})

	h := NewHandle(teststore.New(), DefaultHandleOptions())
	m, err := h.Model("users", schema)
	if err != nil {
		t.Fatalf("Model: %v", err)
	}

	doc := m.New()
	doc.Set("id", "abc")
	doc.Set("email", "ada@example.com")
	if err := m.Save(ctx, doc, SaveOptions{}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	owner, found, err := h.idx.resolve(ctx, schema, "email", "ada@example.com")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !found || owner != "abc" {
		t.Fatalf("expected resolve to hand back the bare user key %q, got %q (found=%v)", "abc", owner, found)
	}

	docs, err := m.FindBy(ctx, "email", "ada@example.com", FindOptions{})
	if err != nil {
		t.Fatalf("FindBy: %v", err)
	}
	if len(docs) != 1 || docs[0].Get("id") != "abc" {
		t.Fatalf("expected one match with id %q, got %v", "abc", docs)
	}
}

func TestHandleModelRedefinitionWithIncompatibleSchemaFails(t *testing.T) {
	h, _ := newTestModel(t)
	other := NewSchema(DefaultSchemaOptions())
	other.AddField(&FieldDescriptor{Name: "id", Kind: KindString, Key: true, Generate: true})
	other.AddField(&FieldDescriptor{Name: "email", Kind: KindNumber})

	if _, err := h.Model("users", other); err == nil {
		t.Fatalf("expected ErrModelRedefined for an incompatible schema reuse")
	}
}
