package odm

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/kartikbazzad/bundoc-odm/store"
)

// Handle is the entry point this package exposes: one store binding shared
// by every Model registered on it — one Handle per store connection,
// models are cheap named views over it.
type Handle struct {
	store store.Store
	opts  HandleOptions
	idx   *indexMaintainer

	mu     sync.RWMutex
	models map[string]*Model
}

// NewHandle binds a Handle to a store and its default options.
func NewHandle(s store.Store, opts HandleOptions) *Handle {
	return &Handle{
		store:  s,
		opts:   opts,
		idx:    newIndexMaintainer(s, opts),
		models: make(map[string]*Model),
	}
}

// Model compiles schema (if not already) and registers it under name,
// returning the existing Model unchanged if name is already registered
// with an equivalent schema. Registering the same name with an
// incompatible schema returns ErrModelRedefined.
func (h *Handle) Model(name string, schema *Schema) (*Model, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := schema.compile(); err != nil {
		h.opts.logger().Warn("odm: failed to compile schema for model", "model", name, "error", err)
		return nil, err
	}

	if existing, ok := h.models[name]; ok {
		if !Equal(existing.schema, schema) {
			return nil, fmt.Errorf("%w: %q", ErrModelRedefined, name)
		}
		return existing, nil
	}

	m :=&Model{name: name, schema: schema, handle: h}
	h.models[name] = m
	return m, nil
}

// model looks up a previously registered model by name, for resolving
// KindReference fields during save/populate.
func (h *Handle) model(name string) (*Model, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	m, ok := h.models[name]
	return m, ok
}

// Model is a compiled schema bound to a Handle, exposing the Document
// Engine's operations for one named collection of documents.
type Model struct {
	name         string
	schema       *Schema
	handle       *Handle
	docValidator *DocumentValidator
}

// Name returns the model's registered name.
func (m *Model) Name() string { return m.name }

// Schema returns the model's compiled schema.
func (m *Model) Schema() *Schema { return m.schema }

// SetDocumentValidator attaches an optional whole-document JSON Schema
// safety net, run just before every Save.
func (m *Model) SetDocumentValidator(v *DocumentValidator) { m.docValidator = v }

// New creates a fresh, Unknown-state document bound to this model, with
// schema defaults applied to every field that declares one and no value
// set yet.
func (m *Model) New() *Document {
	doc := NewDocument(m.schema)
	doc.model = m
	for _, fd := range m.schema.fields {
		if fd.Default == nil {
			continue
		}
		if v, ok := fd.Default.resolve(doc); ok {
			doc.hydrateField(fd.Name, v)
		}
	}
	return doc
}

// Static dispatches to a statics function registered via Schema.Static.
func (m *Model) Static(name string, args ...interface{}) (interface{}, error) {
	fn, ok := m.schema.statics[name]
	if !ok {
		return nil, fmt.Errorf("odm: model %q has no static %q", m.name, name)
	}
	return fn(m, args...)
}

// Save validates, writes, and index-maintains doc, recursing depth-first
// into any KindReference fields holding hydrated *Document instances
// first. It follows the CAS state machine: a Document created with New
// (casUnknown) is Inserted; one loaded from FindById or previously Saved
// (casKnown/casDirty) is Replaced with its last-known CAS, surfacing
// ErrConcurrentModification on conflict.
//
// If an embedded child fails partway through the recursion, children
// saved earlier in the walk are not rolled back — Save is not
// transactional across the embedded graph, only at the single store write
// it performs for doc itself.
func (m *Model) Save(ctx context.Context, doc *Document, opts SaveOptions) error {
	if doc.state == casRemoved {
		return ErrRemoved
	}

	if err := m.saveEmbedded(ctx, doc, make(map[*Document]bool)); err != nil {
		return err
	}

	if err := runPreChain(m.schema.pre["save"], doc); err != nil {
		return err
	}

	if doc.HasErrors() {
		return ErrValidation
	}

	key := doc.Get(m.schema.KeyField().Name)
	idStr, ok := key.(string)
	if !ok {
		return fmt.Errorf("%w: key field %q is not a string", ErrInvalidKey, m.schema.KeyField().Name)
	}
	skey, err := storageKey(m.schema, idStr)
	if err != nil {
		return err
	}

	toObjOpts := ToObjectOptions{Virtuals: opts.Virtuals}
	if opts.Minimize != nil {
		toObjOpts.Minimize = opts.Minimize
	}
	plain := doc.ToObject(toObjOpts)
	if m.schema.Options.StoreFullKey {
		plain[m.schema.KeyField().Name] = skey
	}

	if m.docValidator != nil {
		if err := m.docValidator.Validate(plain); err != nil {
			return err
		}
	}

	body, err := json.Marshal(plain)
	if err != nil {
		return err
	}

	writeOpts := store.WriteOptions{Expiry: opts.Expiry, PersistTo: opts.PersistTo, ReplicateTo: opts.ReplicateTo}

	var oldPlain map[string]interface{}
	var newCas uint64
	switch doc.state {
	case casUnknown:
		newCas, err = m.handle.store.Insert(ctx, skey, body, writeOpts)
	default:
		oldPlain = m.fetchPlainForIndexDiff(ctx, skey)
		writeOpts.Cas = doc.cas
		newCas, err = m.handle.store.Replace(ctx, skey, body, writeOpts)
	}
	if err != nil {
		if store.IsKind(err, store.KindCasMismatch) {
			return ErrConcurrentModification
		}
		return err
	}

	doc.mu.Lock()
	doc.cas = newCas
	doc.state = casKnown
	doc.mu.Unlock()

	indexErrs := m.handle.idx.reconcile(ctx, m.schema, idStr, oldPlain, plain)
	doc.emitSave()
	runPostChain(m.schema.post["save"], doc)
	return m.reportIndexErrors(doc, opts, indexErrs)
}

func (m *Model) reportIndexErrors(doc *Document, opts SaveOptions, indexErrs []*IndexError) error {
	waitForIndex := m.handle.opts.WaitForIndex
	if opts.WaitForIndex != nil {
		waitForIndex = *opts.WaitForIndex
	}
	for _, ie := range indexErrs {
		m.handle.opts.logger().Warn("odm: index maintenance failed", "model", m.name, "field", ie.Field, "value", ie.Value, "error", ie.Err)
		if !waitForIndex {
			doc.emitIndexError(ie)
		}
		if m.handle.opts.EmitErrors {
			doc.emitError(ie)
		}
	}
	if waitForIndex {
		return aggregateIndexErrors(indexErrs)
	}
	return nil
}

// fetchPlainForIndexDiff best-effort fetches the document's currently
// stored form, for diffing indexed values before overwriting it. A miss or
// transport error here just means the diff runs as if there was no prior
// document (every currently-indexed value looks "added"), which is safe —
// it never blocks the primary write.
func (m *Model) fetchPlainForIndexDiff(ctx context.Context, skey string) map[string]interface{} {
	item, err := m.handle.store.Get(ctx, skey)
	if err != nil {
		return nil
	}
	var plain map[string]interface{}
	if err := json.Unmarshal(item.Value, &plain); err != nil {
		return nil
	}
	return plain
}

// saveEmbedded recursively saves every KindReference field whose current
// value is a hydrated *Document, depth-first, so the parent always
// persists its children's up-to-date key values. visited guards against a
// cyclic object graph (ErrCyclicEmbedding).
func (m *Model) saveEmbedded(ctx context.Context, doc *Document, visited map[*Document]bool) error {
	if visited[doc] {
		return ErrCyclicEmbedding
	}
	visited[doc] = true

	for _, fd := range m.schema.fields {
		if fd.Kind != KindReference {
			continue
		}
		child, ok := doc.Get(fd.Name).(*Document)
		if !ok || child == nil {
			continue
		}
		childModel := child.model
		if childModel == nil {
			var found bool
			childModel, found = m.handle.model(fd.RefModel)
			if !found {
				return fmt.Errorf("%w: %q", ErrUnknownModel, fd.RefModel)
			}
		}
		if err := childModel.saveEmbedded(ctx, child, visited); err != nil {
			return err
		}
		if err := childModel.Save(ctx, child, SaveOptions{}); err != nil {
			return err
		}
		doc.hydrateField(fd.Name, child.Get(childModel.schema.KeyField().Name))
	}
	return nil
}

// Remove deletes doc from the store and, unless opts.Lean is set, clears
// its entries from every secondary index and recurses into embedded
// references first when opts.RemoveRefs is set.
func (m *Model) Remove(ctx context.Context, doc *Document, opts RemoveOptions) error {
	if doc.state == casRemoved {
		return ErrRemoved
	}

	if !opts.Lean {
		if err := runPreChain(m.schema.pre["remove"], doc); err != nil {
			return err
		}
	}

	key := doc.Get(m.schema.KeyField().Name)
	idStr, ok := key.(string)
	if !ok {
		return fmt.Errorf("%w: key field %q is not a string", ErrInvalidKey, m.schema.KeyField().Name)
	}
	skey, err := storageKey(m.schema, idStr)
	if err != nil {
		return err
	}

	if opts.Lean {
		if err := m.handle.store.Remove(ctx, skey, store.WriteOptions{}); err != nil && !store.IsKind(err, store.KindNotFound) {
			return err
		}
		doc.mu.Lock()
		doc.state = casRemoved
		doc.mu.Unlock()
		return nil
	}

	if opts.RemoveRefs {
		for _, fd := range m.schema.fields {
			if fd.Kind != KindReference {
				continue
			}
			if child, ok := doc.Get(fd.Name).(*Document); ok && child != nil {
				childModel := child.model
				if childModel == nil {
					childModel, _ = m.handle.model(fd.RefModel)
				}
				if childModel != nil {
					if err := childModel.Remove(ctx, child, opts); err != nil {
						return err
					}
				}
			}
		}
	}

	plain := doc.ToObject(ToObjectOptions{})
	writeOpts := store.WriteOptions{Cas: doc.cas}
	if err := m.handle.store.Remove(ctx, skey, writeOpts); err != nil {
		if store.IsKind(err, store.KindCasMismatch) {
			return ErrConcurrentModification
		}
		if !store.IsKind(err, store.KindNotFound) {
			return err
		}
	}

	indexErrs := m.handle.idx.removeAll(ctx, m.schema, idStr, plain)

	doc.mu.Lock()
	doc.state = casRemoved
	doc.mu.Unlock()
	doc.emitRemove()
	runPostChain(m.schema.post["remove"], doc)

	return m.reportIndexErrors(doc, SaveOptions{}, indexErrs)
}

// FindById fetches one or more documents by their user key(s). A single
// non-array id returns a single *Document (or nil) unless
// opts.AlwaysReturnArrays / HandleOptions.AlwaysReturnArrays is set, in
// which case (or when ids is itself a slice) it returns []*Document
// alongside the list of ids that were not found.
func (m *Model) FindById(ctx context.Context, ids interface{}, opts FindOptions) (interface{}, []string, error) {
	var idList []string
	isArrayCall := false
	switch v := ids.(type) {
	case string:
		idList = []string{v}
	case []string:
		idList = v
		isArrayCall = true
	default:
		return nil, nil, fmt.Errorf("odm: FindById expects a string or []string id, got %T", ids)
	}

	skeys := make([]string, len(idList))
	skeyToID := make(map[string]string, len(idList))
	for i, id := range idList {
		skey, err := storageKey(m.schema, id)
		if err != nil {
			return nil, nil, err
		}
		skeys[i] = skey
		skeyToID[skey] = id
	}

	items, err := m.handle.store.GetMulti(ctx, skeys)
	if err != nil {
		return nil, nil, err
	}

	var docs []*Document
	var missing []string
	for _, skey := range skeys {
		item, ok := items[skey]
		if !ok {
			missing = append(missing, skeyToID[skey])
			continue
		}
		doc, err := m.hydrate(item)
		if err != nil {
			return nil, nil, err
		}
		if opts.Populate != nil {
			if err := m.populate(ctx, doc, opts.Populate); err != nil {
				return nil, nil, err
			}
		}
		docs = append(docs, doc)
	}

	if opts.KeepSortOrder || m.handle.opts.KeepSortOrder {
		docs = reorderBySkeyOrder(docs, m.schema, idList)
	}

	reportMissing := m.handle.opts.Missing
	if opts.Missing != nil {
		reportMissing = *opts.Missing
	}
	if !reportMissing {
		missing = nil
	}

	alwaysArrays := opts.AlwaysReturnArrays || m.handle.opts.AlwaysReturnArrays
	if !isArrayCall && !alwaysArrays {
		if len(docs) == 0 {
			return nil, missing, nil
		}
		return docs[0], missing, nil
	}
	return docs, missing, nil
}

func reorderBySkeyOrder(docs []*Document, schema *Schema, idOrder []string) []*Document {
	byID := make(map[string]*Document, len(docs))
	for _, d := range docs {
		id, _ := d.Get(schema.KeyField().Name).(string)
		byID[id] = d
	}
	out := make([]*Document, 0, len(docs))
	for _, id := range idOrder {
		if d, ok := byID[id]; ok {
			out = append(out, d)
		}
	}
	return out
}

// hydrate decodes a stored item into a Document in casKnown state,
// bypassing the field-write pipeline — data loaded from the store is
// trusted, not re-validated.
func (m *Model) hydrate(item store.Item) (*Document, error) {
	var plain map[string]interface{}
	if err := json.Unmarshal(item.Value, &plain); err != nil {
		return nil, err
	}
	if m.schema.Options.StoreFullKey {
		if raw, ok := plain[m.schema.KeyField().Name].(string); ok {
			if uk, err := userKeyFromStorage(m.schema, raw); err == nil {
				plain[m.schema.KeyField().Name] = uk
			}
		}
	}
	doc := NewDocument(m.schema)
	doc.model = m
	for k, v := range plain {
		doc.hydrateField(k, v)
	}
	doc.cas = item.Cas
	doc.state = casKnown
	return doc, nil
}

// populate resolves KindReference fields into hydrated child Documents,
// per FindOptions.Populate's accepted shapes (bool / field name / list of
// field names).
func (m *Model) populate(ctx context.Context, doc *Document, spec interface{}) error {
	var fields []string
	switch v := spec.(type) {
	case bool:
		if !v {
			return nil
		}
		for _, fd := range m.schema.fields {
			if fd.Kind == KindReference {
				fields = append(fields, fd.Name)
			}
		}
	case string:
		fields = []string{v}
	case []string:
		fields = v
	default:
		return fmt.Errorf("odm: unsupported Populate value of type %T", spec)
	}

	for _, name := range fields {
		fd, ok := m.schema.Field(name)
		if !ok || fd.Kind != KindReference {
			continue
		}
		refID, ok := doc.Get(name).(string)
		if !ok || refID == "" {
			continue
		}
		childModel, ok := m.handle.model(fd.RefModel)
		if !ok {
			return fmt.Errorf("%w: %q", ErrUnknownModel, fd.RefModel)
		}
		child, _, err := childModel.FindById(ctx, refID, FindOptions{})
		if err != nil {
			return err
		}
		if cd, ok := child.(*Document); ok && cd != nil {
			doc.hydrateField(name, cd)
		}
	}
	return nil
}

// FindBy resolves the set of documents whose field currently holds value,
// via the Index Maintainer's lookup documents, then FindById's each
// matching primary key. If a lookup document names a primary key that
// cannot itself be found, the behavior depends on HandleOptions /
// FindOptions ErrorOnMissingIndex: silently skip it (default) or return a
// *DanglingIndexError.
func (m *Model) FindBy(ctx context.Context, field string, value interface{}, opts FindOptions) ([]*Document, error) {
	fd, ok := m.schema.Field(field)
	if !ok || !fd.Index {
		return nil, fmt.Errorf("odm: field %q is not indexed on model %q", field, m.name)
	}

	id, found, err := m.handle.idx.resolve(ctx, m.schema, field, value)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}

	result, _, err := m.FindById(ctx, []string{id}, opts)
	if err != nil {
		return nil, err
	}
	docs, _ := result.([]*Document)

	if len(docs) == 0 {
		key, _ := refKey(m.schema, field, value)
		m.handle.opts.logger().Warn("odm: lookup document names a primary key that no longer resolves", "model", m.name, "field", field, "refKey", key)
		if m.handle.opts.ErrorOnMissingIndex {
			return docs, &DanglingIndexError{RefKey: key}
		}
	}
	return docs, nil
}
