// Package expr compiles and evaluates CEL expressions used as declarative
// field and schema validators.
//
// It exists so that a Schema can carry a validator as a string ("value > 0
// && value < 150") instead of a Go closure, which matters when schemas are
// themselves data (loaded from a config file or a management API) rather
// than compiled into the binary.
package expr

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/checker/decls"
)

// Engine compiles and evaluates boolean CEL expressions against a field/
// document context. Programs are compiled once and cached by expression
// text, since the same validator expression is evaluated on every Set call
// for its field.
type Engine struct {
	env      *cel.Env
	prgCache sync.Map // map[string]cel.Program
}

// NewEngine creates an Engine with the variable bindings available to
// field and document validators:
//   - value: the candidate value being set (after typecast)
//   - field: the name of the field being validated
//   - doc:   the document's other field values, as a map
func NewEngine() (*Engine, error) {
	env, err := cel.NewEnv(
		cel.Declarations(
			decls.NewVar("value", decls.Dyn),
			decls.NewVar("field", decls.String),
			decls.NewVar("doc", decls.NewMapType(decls.String, decls.Dyn)),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("expr: create environment: %w", err)
	}
	return &Engine{env: env}, nil
}

// Compile validates an expression ahead of use, surfacing syntax errors at
// schema-registration time instead of on first Set.
func (e *Engine) Compile(expression string) error {
	_, err := e.program(expression)
	return err
}

func (e *Engine) program(expression string) (cel.Program, error) {
	if val, ok := e.prgCache.Load(expression); ok {
		return val.(cel.Program), nil
	}

	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("expr: compile %q: %s", expression, issues.Err())
	}

	prg, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("expr: build program %q: %s", expression, err)
	}

	e.prgCache.Store(expression, prg)
	return prg, nil
}

// Eval evaluates a boolean expression against the given context. A non-
// boolean result is detected after evaluation and reported back as an
// error rather than silently coerced.
func (e *Engine) Eval(expression string, value interface{}, field string, doc map[string]interface{}) (bool, error) {
	prg, err := e.program(expression)
	if err != nil {
		return false, err
	}

	out, _, err := prg.Eval(map[string]interface{}{
		"value": value,
		"field": field,
		"doc":   doc,
	})
	if err != nil {
		return false, fmt.Errorf("expr: eval %q: %w", expression, err)
	}

	result, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("expr: expression %q must evaluate to bool, got %T", expression, out.Value())
	}

	return result, nil
}
