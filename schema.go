package odm

import (
	"fmt"
	"strings"
	"sync"

	"github.com/kartikbazzad/bundoc-odm/internal/expr"
)

// VirtualField is a computed, never-persisted member exposed through
// Document.Get/ToObject when ToObjectOptions.Virtuals is set.
type VirtualField struct {
	Get func(doc *Document) interface{}
	Set func(doc *Document, value interface{})
}

// StaticFunc is a model-level function dispatched by name through
// Model.Static, standing in for Mongoose-style "statics" without
// prototype-chain trickery.
type StaticFunc func(m *Model, args ...interface{}) (interface{}, error)

// MethodFunc is an instance-level function dispatched by name through
// Document.Call, standing in for Mongoose-style "methods".
type MethodFunc func(doc *Document, args ...interface{}) (interface{}, error)

// Schema is a named, ordered collection of field descriptors plus
// schema-level options. A Schema is built with AddField/
// Virtual/Static/Method/Pre/Post and then compiled — implicitly, the first
// time it's handed to Handle.Model — after which it is read-only for the
// lifetime of the process.
type Schema struct {
	Options SchemaOptions

	mu          sync.Mutex
	compiled    bool
	fields      []*FieldDescriptor
	byName      map[string]*FieldDescriptor
	keyField    *FieldDescriptor
	indexFields []*FieldDescriptor
	virtuals    map[string]*VirtualField
	statics     map[string]StaticFunc
	methods     map[string]MethodFunc
	pre         map[string][]Hook
	post        map[string][]PostHook

	exprOnce   sync.Once
	exprEng    *expr.Engine
	exprEngErr error
}

// NewSchema creates an empty, uncompiled Schema with the given options.
func NewSchema(opts SchemaOptions) *Schema {
	if opts.Delimiter == "" {
		opts.Delimiter = "_"
	}
	if opts.RefIndexKeyPrefix == "" {
		opts.RefIndexKeyPrefix = "$_ref_by_"
	}
	return &Schema{
		Options:  opts,
		byName:   make(map[string]*FieldDescriptor),
		virtuals: make(map[string]*VirtualField),
		statics:  make(map[string]StaticFunc),
		methods:  make(map[string]MethodFunc),
		pre:      make(map[string][]Hook),
		post:     make(map[string][]PostHook),
	}
}

// AddField appends a field descriptor, or overrides the existing one of
// the same name. Must be called before the schema is compiled.
func (s *Schema) AddField(fd *FieldDescriptor) *Schema {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.compiled {
		panic("odm: AddField called on a compiled schema")
	}
	if _, exists := s.byName[fd.Name]; !exists {
		s.fields = append(s.fields, fd)
	} else {
		for i, existing := range s.fields {
			if existing.Name == fd.Name {
				s.fields[i] = fd
				break
			}
		}
	}
	s.byName[fd.Name] = fd
	return s
}

// Virtual registers a computed member.
func (s *Schema) Virtual(name string, v *VirtualField) *Schema {
	s.virtuals[name] = v
	return s
}

// Static registers a model-level dispatch function.
func (s *Schema) Static(name string, fn StaticFunc) *Schema {
	s.statics[name] = fn
	return s
}

// Method registers an instance-level dispatch function.
func (s *Schema) Method(name string, fn MethodFunc) *Schema {
	s.methods[name] = fn
	return s
}

// Pre registers a pre-hook for the named lifecycle event ("save", "remove",
// or a custom hook name).
func (s *Schema) Pre(event string, hook Hook) *Schema {
	s.pre[event] = append(s.pre[event], hook)
	return s
}

// Post registers a post-hook for the named lifecycle event.
func (s *Schema) Post(event string, hook PostHook) *Schema {
	s.post[event] = append(s.post[event], hook)
	return s
}

// Field returns the descriptor for name, if any.
func (s *Schema) Field(name string) (*FieldDescriptor, bool) {
	fd, ok := s.byName[name]
	return fd, ok
}

// Fields returns the ordered field list.
func (s *Schema) Fields() []*FieldDescriptor { return s.fields }

// KeyField returns the (always present, post-compile) key field.
func (s *Schema) KeyField() *FieldDescriptor { return s.keyField }

// IndexFields returns the fields marked Index: true.
func (s *Schema) IndexFields() []*FieldDescriptor { return s.indexFields }

// Extend copies from base those fields, virtuals, statics, methods, and
// middleware entries whose names are absent in s — a shallow diff by name.
// Call before compiling either schema.
func (s *Schema) Extend(base *Schema) *Schema {
	for _, fd := range base.fields {
		if _, exists := s.byName[fd.Name]; !exists {
			s.AddField(fd)
		}
	}
	for name, v := range base.virtuals {
		if _, exists := s.virtuals[name]; !exists {
			s.virtuals[name] = v
		}
	}
	for name, fn := range base.statics {
		if _, exists := s.statics[name]; !exists {
			s.statics[name] = fn
		}
	}
	for name, fn := range base.methods {
		if _, exists := s.methods[name]; !exists {
			s.methods[name] = fn
		}
	}
	for event, hooks := range base.pre {
		if _, exists := s.pre[event]; !exists {
			s.pre[event] = append([]Hook{}, hooks...)
		}
	}
	for event, hooks := range base.post {
		if _, exists := s.post[event]; !exists {
			s.post[event] = append([]PostHook{}, hooks...)
		}
	}
	return s
}

// compile normalizes the field list: resolves (or synthesizes) the key
// field and the indexed-field set. Idempotent and safe to call from
// multiple goroutines (guarded by mu); subsequent AddField calls panic.
func (s *Schema) compile() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.compiled {
		return nil
	}

	var key *FieldDescriptor
	for _, fd := range s.fields {
		if fd.Key {
			if key != nil {
				return fmt.Errorf("odm: schema has more than one key field (%q and %q)", key.Name, fd.Name)
			}
			key = fd
		}
	}

	if key == nil {
		key = &FieldDescriptor{
			Name:     "id",
			Kind:     KindString,
			Key:      true,
			Generate: true,
			Default:  &Default{Thunk: func(doc *Document) interface{} { return newUUID() }},
		}
		s.fields = append([]*FieldDescriptor{key}, s.fields...)
		s.byName[key.Name] = key
	} else if key.Default == nil && key.Generate {
		key.Default = &Default{Thunk: func(doc *Document) interface{} { return newUUID() }}
	}
	s.keyField = key

	s.indexFields = s.indexFields[:0]
	for _, fd := range s.fields {
		if fd.Index {
			if fd.IndexName == "" {
				fd.IndexName = deriveIndexName(fd.Name)
			}
			s.indexFields = append(s.indexFields, fd)
		}
	}

	s.compiled = true
	return nil
}

func (s *Schema) exprEngine() (*expr.Engine, error) {
	s.exprOnce.Do(func() {
		s.exprEng, s.exprEngErr = expr.NewEngine()
	})
	return s.exprEng, s.exprEngErr
}

// deriveIndexName singularizes (trailing-"s" strip if length > 1) and
// lowercases the first letter of a field name to derive a default index
// name.
func deriveIndexName(field string) string {
	name := field
	if len(name) > 1 && strings.HasSuffix(name, "s") {
		name = name[:len(name)-1]
	}
	if name == "" {
		return name
	}
	return strings.ToLower(name[:1]) + name[1:]
}

// Equal reports whether two schemas are structurally equivalent for the
// purpose of safe re-registration (Handle.Model guards against redefining
// a model with an incompatible schema). Field order doesn't matter; field
// identity is by name, kind, key-ness, and index-ness.
func Equal(a, b *Schema) bool {
	if a == nil || b == nil {
		return a == b
	}
	if len(a.fields) != len(b.fields) {
		return false
	}
	for _, fa := range a.fields {
		fb, ok := b.byName[fa.Name]
		if !ok {
			return false
		}
		if fa.Kind != fb.Kind || fa.Key != fb.Key || fa.Index != fb.Index {
			return false
		}
	}
	return true
}
