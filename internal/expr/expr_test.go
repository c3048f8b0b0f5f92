package expr

import "testing"

func TestEvalBasic(t *testing.T) {
	e, err := NewEngine()
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	ok, err := e.Eval("value > 0 && value < 150", 42.0, "age", nil)
	if err != nil {
		t.Fatalf("Eval: %v", err)
	}
	if !ok {
		t.Error("expected expression to evaluate true for value=42")
	}

	ok, err = e.Eval("value > 0 && value < 150", 200.0, "age", nil)
	if err != nil {
		t.Fatalf("Eval: %v", err)
	}
	if ok {
		t.Error("expected expression to evaluate false for value=200")
	}
}

func TestEvalCachesCompiledProgram(t *testing.T) {
	e, err := NewEngine()
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	const expression = "doc['name'] != ''"

	if _, err := e.Eval(expression, nil, "name", map[string]interface{}{"name": "Bob"}); err != nil {
		t.Fatalf("Eval: %v", err)
	}
	if _, ok := e.prgCache.Load(expression); !ok {
		t.Error("expected compiled program to be cached after first Eval")
	}
	if _, err := e.Eval(expression, nil, "name", map[string]interface{}{"name": "Bob"}); err != nil {
		t.Fatalf("second Eval: %v", err)
	}
}

func TestCompileRejectsBadSyntax(t *testing.T) {
	e, err := NewEngine()
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	if err := e.Compile("value >"); err == nil {
		t.Error("expected Compile to reject malformed expression")
	}
}

func TestEvalRejectsNonBooleanResult(t *testing.T) {
	e, err := NewEngine()
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	if _, err := e.Eval("value + 1.0", 1.0, "x", nil); err == nil {
		t.Error("expected error for non-boolean expression result")
	}
}
