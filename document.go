package odm

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"
)

// casState tracks a Document's lifecycle relative to the store: Unknown
// (never written) -> Known (matches the store) -> Dirty (locally modified
// since) -> Removed.
type casState int

const (
	casUnknown casState = iota
	casKnown
	casDirty
	casRemoved
)

// Document is a schema-bound, mutable property bag. It never performs I/O
// itself — Model.Save/Remove/FindById own the store round trips and hand
// Documents their data via hydrateField (no validation) or Set (full
// pipeline).
type Document struct {
	mu     sync.RWMutex
	schema *Schema
	model  *Model

	data  map[string]interface{}
	state casState
	cas   uint64

	setErrors map[string]error
	observers map[string][]func(args ...interface{})
}

// NewDocument creates an empty, Unknown-state Document bound to schema.
// Most callers get Documents from Model.New or Model.FindById instead of
// calling this directly.
func NewDocument(schema *Schema) *Document {
	schema.compile()
	return &Document{
		schema:    schema,
		data:      make(map[string]interface{}),
		observers: make(map[string][]func(args ...interface{})),
	}
}

// hydrateField stores value under name without running transform/typecast/
// validator, distinguishing data loaded from the store from a user-facing
// Set. Used when decoding a stored document and when typecasting nested
// object fields into a sub-Document.
func (d *Document) hydrateField(name string, value interface{}) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.data[name] = value
}

// Get returns the externally visible value of a field: the stored value,
// passed through its Getter if one is registered, or a virtual's Get
// function if name names a virtual instead of a stored field.
func (d *Document) Get(name string) interface{} {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if fd, ok := d.schema.Field(name); ok {
		v := d.data[name]
		if fd.Getter != nil {
			return fd.Getter(v, d)
		}
		return v
	}
	if v, ok := d.schema.virtuals[name]; ok && v.Get != nil {
		return v.Get(d)
	}
	return nil
}

// GetMany returns the Get result for each name, in order.
func (d *Document) GetMany(names ...string) []interface{} {
	out := make([]interface{}, len(names))
	for i, n := range names {
		out[i] = d.Get(n)
	}
	return out
}

// Set runs the full field-write pipeline for name: Transform -> typecast ->
// applyConstraints -> per-field Validator -> schema-wide OnBeforeValueSet ->
// commit -> schema-wide OnValueSet -> per-field Getter-independent stored
// value. A failure at any stage before commit records a set-error (visible
// via Errors()) and leaves the field's prior value untouched; it never
// returns an error directly, matching accumulate-don't-abort
// semantics for a single field write.
func (d *Document) Set(name string, raw interface{}) {
	fd, ok := d.schema.Field(name)
	if !ok {
		if v, ok := d.schema.virtuals[name]; ok && v.Set != nil {
			v.Set(d, raw)
			return
		}
		d.recordSetError(name, fmt.Errorf("odm: unknown field %q", name))
		return
	}

	if fd.ReadOnly && d.state != casUnknown {
		d.recordSetError(name, fmt.Errorf("odm: field %q is read-only", name))
		return
	}

	value := raw
	if fd.Transform != nil {
		value = fd.Transform(value, d)
	}

	cast, ok := fd.typecast(value)
	if !ok {
		d.recordSetError(name, fmt.Errorf("odm: field %q rejected value of type %T", name, value))
		return
	}

	cast, err := fd.applyConstraints(cast)
	if err != nil {
		d.recordSetError(name, err)
		return
	}

	if fd.Validator != nil {
		fc := FieldContext{Doc: d, Field: name, Value: cast}
		okv, err := fd.Validator.Validate(fc)
		if err != nil {
			d.recordSetError(name, err)
			return
		}
		if !okv {
			d.recordSetError(name, fmt.Errorf("odm: field %q failed validation", name))
			return
		}
	}

	if d.schema.Options.OnBeforeValueSet != nil {
		cast, err = d.schema.Options.OnBeforeValueSet(d, name, cast)
		if err != nil {
			d.recordSetError(name, err)
			return
		}
	}

	d.mu.Lock()
	d.data[name] = cast
	if d.state == casKnown {
		d.state = casDirty
	}
	d.mu.Unlock()
	d.clearSetError(name)

	if d.schema.Options.OnValueSet != nil {
		d.schema.Options.OnValueSet(d, name, cast)
	}
}

// SetMany calls Set for every entry in fields.
func (d *Document) SetMany(fields map[string]interface{}) {
	for name, value := range fields {
		d.Set(name, value)
	}
}

// Patch applies a sparse update through the normal Set pipeline, field by
// field, supporting dot-notation nested paths and a "$unset" key mapping to
// a list (or map, truthy values only) of paths to clear. Routing through
// Set means transforms/typecast/validators still run for every touched
// field instead of the backing map being mutated directly.
func (d *Document) Patch(fields map[string]interface{}) error {
	if unset, ok := fields["$unset"]; ok {
		switch u := unset.(type) {
		case []string:
			for _, path := range u {
				d.unsetPath(path)
			}
		case map[string]interface{}:
			for path, v := range u {
				if truthy(v) {
					d.unsetPath(path)
				}
			}
		}
	}
	for name, value := range fields {
		if name == "$unset" {
			continue
		}
		d.setPath(name, value)
	}
	if d.HasErrors() {
		return ErrValidation
	}
	return nil
}

func truthy(v interface{}) bool {
	switch t := v.(type) {
	case bool:
		return t
	case nil:
		return false
	default:
		return true
	}
}

// setPath resolves a dot-notation path against the top-level field it
// starts with; top-level names go straight through Set, nested paths are
// only supported when the top-level field is KindObject with a Subschema.
func (d *Document) setPath(path string, value interface{}) {
	parts := strings.SplitN(path, ".", 2)
	if len(parts) == 1 {
		d.Set(path, value)
		return
	}
	child, ok := d.Get(parts[0]).(*Document)
	if !ok {
		d.recordSetError(path, fmt.Errorf("odm: cannot patch nested path %q: %q is not an object field", path, parts[0]))
		return
	}
	child.setPath(parts[1], value)
}

func (d *Document) unsetPath(path string) {
	parts := strings.SplitN(path, ".", 2)
	if len(parts) == 1 {
		d.mu.Lock()
		delete(d.data, parts[0])
		d.mu.Unlock()
		return
	}
	if child, ok := d.Get(parts[0]).(*Document); ok {
		child.unsetPath(parts[1])
	}
}

func (d *Document) recordSetError(field string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.setErrors == nil {
		d.setErrors = make(map[string]error)
	}
	d.setErrors[field] = err
}

func (d *Document) clearSetError(field string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.setErrors, field)
}

// Errors returns the set-errors accumulated since the document was created
// or last cleared, keyed by field name.
func (d *Document) Errors() map[string]error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[string]error, len(d.setErrors))
	for k, v := range d.setErrors {
		out[k] = v
	}
	return out
}

// HasErrors reports whether any set-errors are outstanding.
func (d *Document) HasErrors() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.setErrors) > 0
}

// ClearErrors discards all outstanding set-errors.
func (d *Document) ClearErrors() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.setErrors = nil
}

// rawSnapshot returns a shallow copy of the document's current raw field
// values, for use as the `doc` variable inside a CEL expression validator.
// Nested *Document values are projected with ToObject so expressions see
// plain maps throughout.
func (d *Document) rawSnapshot() map[string]interface{} {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[string]interface{}, len(d.data))
	for k, v := range d.data {
		if sub, ok := v.(*Document); ok {
			out[k] = sub.ToObject(ToObjectOptions{})
			continue
		}
		out[k] = v
	}
	return out
}

// ToObject projects the document to a plain map[string]interface{}.
// Invisible fields are always dropped; Minimize additionally omits
// zero-valued fields; opts.Virtuals includes computed members; the
// schema's ToObjectTransform (or opts.Transform, if set) runs last.
func (d *Document) ToObject(opts ToObjectOptions) map[string]interface{} {
	d.mu.RLock()
	defer d.mu.RUnlock()

	minimize := d.schema.Options.Minimize
	if opts.Minimize != nil {
		minimize = *opts.Minimize
	}

	out := make(map[string]interface{})
	for _, fd := range d.schema.fields {
		if fd.Invisible {
			continue
		}
		v, present := d.data[fd.Name]
		if !present {
			continue
		}
		if minimize && isZeroValue(v) {
			continue
		}
		if sub, ok := v.(*Document); ok {
			v = sub.ToObject(opts)
		} else if opts.DateToISO {
			if t, ok := v.(time.Time); ok {
				v = t.Format(time.RFC3339)
			}
		}
		out[fd.Name] = v
	}

	if opts.Virtuals {
		for name, v := range d.schema.virtuals {
			if v.Get != nil {
				out[name] = v.Get(d)
			}
		}
	}

	transform := d.schema.Options.ToObjectTransform
	if opts.Transform != nil {
		transform = opts.Transform
	}
	if transform != nil {
		out = transform(out)
	}
	return out
}

func isZeroValue(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case float64:
		return t == 0
	case bool:
		return !t
	case []interface{}:
		return len(t) == 0
	case map[string]interface{}:
		return len(t) == 0
	default:
		return false
	}
}

// ToJSON is ToObject followed by json.Marshal, using the schema's
// ToJSONTransform if set (falling back to ToObjectTransform otherwise) and
// projecting KindDate fields to RFC3339 strings by default.
func (d *Document) ToJSON() ([]byte, error) {
	opts := ToObjectOptions{Virtuals: false, DateToISO: true}
	if t := d.schema.Options.ToJSONTransform; t != nil {
		opts.Transform = t
	}
	return json.Marshal(d.ToObject(opts))
}

// Call dispatches to a method registered on the document's schema via
// Schema.Method.
func (d *Document) Call(name string, args ...interface{}) (interface{}, error) {
	fn, ok := d.schema.methods[name]
	if !ok {
		return nil, fmt.Errorf("odm: document has no method %q", name)
	}
	return fn(d, args...)
}

// on registers an observer for a lifecycle event fired on this document
// instance: "save", "remove", "index", or "error".
func (d *Document) on(event string, fn func(args ...interface{})) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.observers[event] = append(d.observers[event], fn)
}

func (d *Document) emit(event string, args ...interface{}) {
	d.mu.RLock()
	fns := append([]func(args ...interface{}){}, d.observers[event]...)
	d.mu.RUnlock()
	for _, fn := range fns {
		fn(args...)
	}
}
