package odm

import (
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

// DocumentValidator is an optional whole-document safety net layered on
// top of the per-field typecast/constraint/Validator pipeline, for
// constraints that span multiple fields or that apply to a KindAny field's
// otherwise-untyped payload. Scoped to a single Model rather than an
// entire collection.
type DocumentValidator struct {
	schema *gojsonschema.Schema
}

// NewDocumentValidator compiles a JSON Schema document (as raw JSON bytes)
// into a reusable DocumentValidator.
func NewDocumentValidator(schemaJSON []byte) (*DocumentValidator, error) {
	loader := gojsonschema.NewBytesLoader(schemaJSON)
	schema, err := gojsonschema.NewSchema(loader)
	if err != nil {
		return nil, fmt.Errorf("odm: compiling document schema: %w", err)
	}
	return &DocumentValidator{schema: schema}, nil
}

// Validate runs plain against the compiled schema, returning ErrValidation
// (wrapping the first gojsonschema.ResultError encountered) if plain
// doesn't conform.
func (v *DocumentValidator) Validate(plain map[string]interface{}) error {
	result, err := v.schema.Validate(gojsonschema.NewGoLoader(plain))
	if err != nil {
		return fmt.Errorf("odm: running document schema: %w", err)
	}
	if !result.Valid() {
		if len(result.Errors()) > 0 {
			return fmt.Errorf("%w: %s", ErrValidation, result.Errors()[0].String())
		}
		return ErrValidation
	}
	return nil
}
