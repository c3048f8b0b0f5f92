package odm

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Kind is the semantic type of a field descriptor.
type Kind int

const (
	KindString Kind = iota
	KindNumber
	KindBoolean
	KindDate
	KindAny
	KindArray
	KindObject
	KindReference
	KindAlias
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBoolean:
		return "boolean"
	case KindDate:
		return "date"
	case KindAny:
		return "any"
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	case KindReference:
		return "reference"
	case KindAlias:
		return "alias"
	default:
		return "unknown"
	}
}

// FieldContext is what a Validator or Getter sees: the candidate value
// (already typecast), the field it belongs to, and the document it's being
// set on (for cross-field checks via doc.Get(other)).
type FieldContext struct {
	Doc   *Document
	Field string
	Value interface{}
}

// Validator decides whether a candidate value may be committed to a field.
// Returning false cancels the write and records a set-error; it never
// panics or aborts the whole Set pipeline other than for this one field.
type Validator interface {
	Validate(fc FieldContext) (bool, error)
}

// ValidatorFunc adapts a plain Go function to Validator.
type ValidatorFunc func(fc FieldContext) bool

func (f ValidatorFunc) Validate(fc FieldContext) (bool, error) { return f(fc), nil }

// exprValidator evaluates a CEL expression (see internal/expr) lazily
// against the owning schema's shared expression engine. It lets a schema
// be described as data (e.g. loaded from JSON/YAML) instead of requiring a
// compiled Go closure for every constraint.
type exprValidator struct {
	expression string
}

// Expr returns a Validator backed by a CEL boolean expression. The
// expression sees `value` (the candidate, post-typecast), `field` (the
// field name), and `doc` (the document's current raw field values).
func Expr(expression string) Validator {
	return &exprValidator{expression: expression}
}

func (v *exprValidator) Validate(fc FieldContext) (bool, error) {
	engine, err := fc.Doc.schema.exprEngine()
	if err != nil {
		return false, err
	}
	return engine.Eval(v.expression, fc.Value, fc.Field, fc.Doc.rawSnapshot())
}

// Transform mutates a value before typecast runs.
type Transform func(value interface{}, doc *Document) interface{}

// Getter computes the externally visible value of a field from its stored
// value, without altering what's persisted.
type Getter func(stored interface{}, doc *Document) interface{}

// Default is either a literal value or a thunk evaluated in document
// context.
type Default struct {
	Value interface{}
	Thunk func(doc *Document) interface{}
}

func (d *Default) resolve(doc *Document) (interface{}, bool) {
	if d == nil {
		return nil, false
	}
	if d.Thunk != nil {
		return d.Thunk(doc), true
	}
	return d.Value, true
}

// FieldDescriptor is the tagged-variant description of one schema field.
// Not every attribute applies to every Kind; see the per-kind constraint
// groups below.
type FieldDescriptor struct {
	Name string
	Kind Kind

	Key      bool
	Generate bool // only meaningful when Key is true; default true
	Prefix   *string
	Suffix   *string

	Default   *Default
	Transform Transform
	Validator Validator
	Getter    Getter

	ReadOnly  bool
	Invisible bool

	Index     bool
	IndexName string

	// string constraints
	Regex           *regexp.Regexp
	Enum            []string
	MinLength       *int
	MaxLength       *int
	Clip            bool
	StringTransform func(string) string

	// number constraints
	Min *float64
	Max *float64

	// array constraints
	ArrayType *FieldDescriptor
	Unique    bool

	// object-of-subschema
	Subschema *Schema

	// reference-to-model
	RefModel string

	// alias
	AliasOf string
}

// typecast coerces raw into the field's declared Kind. It returns the
// coerced value and true on success; on false the caller must leave the
// prior value untouched and record a set-error.
func (fd *FieldDescriptor) typecast(raw interface{}) (interface{}, bool) {
	if raw == nil {
		return nil, true
	}

	switch fd.Kind {
	case KindAny, KindReference:
		return raw, true
	case KindAlias:
		return raw, true
	case KindString:
		return typecastString(raw)
	case KindNumber:
		return typecastNumber(raw)
	case KindBoolean:
		return typecastBoolean(raw)
	case KindDate:
		return typecastDate(raw)
	case KindArray:
		return fd.typecastArray(raw)
	case KindObject:
		return fd.typecastObject(raw)
	default:
		return raw, true
	}
}

func typecastString(raw interface{}) (interface{}, bool) {
	switch v := raw.(type) {
	case string:
		return v, true
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	case int:
		return strconv.Itoa(v), true
	case int64:
		return strconv.FormatInt(v, 10), true
	case bool:
		return strconv.FormatBool(v), true
	case time.Time:
		return v.Format(time.RFC3339), true
	default:
		return nil, false
	}
}

func typecastNumber(raw interface{}) (interface{}, bool) {
	switch v := raw.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return nil, false
		}
		return f, true
	default:
		return nil, false
	}
}

func typecastBoolean(raw interface{}) (interface{}, bool) {
	switch v := raw.(type) {
	case bool:
		return v, true
	case float64:
		if v == 0 {
			return false, true
		}
		if v == 1 {
			return true, true
		}
		return nil, false
	case string:
		switch v {
		case "true":
			return true, true
		case "false":
			return false, true
		case "1":
			return true, true
		case "0":
			return false, true
		default:
			return nil, false
		}
	default:
		return nil, false
	}
}

func typecastDate(raw interface{}) (interface{}, bool) {
	switch v := raw.(type) {
	case time.Time:
		return v, true
	case string:
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			return t, true
		}
		if t, err := time.Parse("2006-01-02", v); err == nil {
			return t, true
		}
		return nil, false
	case float64:
		// epoch milliseconds, matching the common JS-derived wire format.
		sec := int64(v) / 1000
		nsec := (int64(v) % 1000) * int64(time.Millisecond)
		return time.Unix(sec, nsec).UTC(), true
	default:
		return nil, false
	}
}

func (fd *FieldDescriptor) typecastArray(raw interface{}) (interface{}, bool) {
	items, ok := raw.([]interface{})
	if !ok {
		return nil, false
	}
	if fd.ArrayType == nil {
		return items, true
	}
	out := make([]interface{}, len(items))
	for i, item := range items {
		cast, ok := fd.ArrayType.typecast(item)
		if !ok {
			return nil, false
		}
		out[i] = cast
	}
	if fd.Unique {
		out = uniqueValues(out)
	}
	return out, true
}

func uniqueValues(items []interface{}) []interface{} {
	seen := make(map[string]bool, len(items))
	out := make([]interface{}, 0, len(items))
	for _, item := range items {
		key := fmt.Sprintf("%v", item)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, item)
	}
	return out
}

func (fd *FieldDescriptor) typecastObject(raw interface{}) (interface{}, bool) {
	m, ok := raw.(map[string]interface{})
	if !ok {
		if asDoc, ok := raw.(*Document); ok {
			return asDoc, true
		}
		return nil, false
	}
	if fd.Subschema == nil {
		return m, true
	}
	sub := NewDocument(fd.Subschema)
	for k, v := range m {
		sub.hydrateField(k, v)
	}
	return sub, true
}

// applyConstraints runs the per-kind constraint checks (regex, enum,
// length, clip, min/max) after typecast and before the Validator. It
// returns the possibly-clipped value and an error describing the first
// constraint violated, if any.
func (fd *FieldDescriptor) applyConstraints(value interface{}) (interface{}, error) {
	switch fd.Kind {
	case KindString:
		s, ok := value.(string)
		if !ok {
			return value, nil
		}
		if fd.StringTransform != nil {
			s = fd.StringTransform(s)
		}
		if fd.MaxLength != nil && len(s) > *fd.MaxLength {
			if fd.Clip {
				s = s[:*fd.MaxLength]
			} else {
				return value, fmt.Errorf("field %q exceeds maxLength %d", fd.Name, *fd.MaxLength)
			}
		}
		if fd.MinLength != nil && len(s) < *fd.MinLength {
			return value, fmt.Errorf("field %q shorter than minLength %d", fd.Name, *fd.MinLength)
		}
		if fd.Regex != nil && !fd.Regex.MatchString(s) {
			return value, fmt.Errorf("field %q does not match pattern %s", fd.Name, fd.Regex.String())
		}
		if len(fd.Enum) > 0 && !contains(fd.Enum, s) {
			return value, fmt.Errorf("field %q value %q not in enum %v", fd.Name, s, fd.Enum)
		}
		return s, nil
	case KindNumber:
		n, ok := value.(float64)
		if !ok {
			return value, nil
		}
		if fd.Min != nil && n < *fd.Min {
			return value, fmt.Errorf("field %q value %v below min %v", fd.Name, n, *fd.Min)
		}
		if fd.Max != nil && n > *fd.Max {
			return value, fmt.Errorf("field %q value %v above max %v", fd.Name, n, *fd.Max)
		}
		return n, nil
	default:
		return value, nil
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
