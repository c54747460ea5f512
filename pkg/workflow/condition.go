package workflow

import (
	"fmt"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// ConditionEvaluator evaluates step and branch conditions against the current
// workflow variable context using a restricted expression grammar
// (comparisons, boolean connectives, arithmetic, variable lookups). Context
// keys are exposed as top-level variables, so "score > 3 && status == 'ok'"
// reads straight from the context.
//
// Compiled programs are cached and reused across goroutines.
type ConditionEvaluator struct {
	mu    sync.RWMutex
	cache map[string]*vm.Program
}

func NewConditionEvaluator() *ConditionEvaluator {
	return &ConditionEvaluator{
		cache: make(map[string]*vm.Program),
	}
}

// Evaluate runs the expression against the context. An empty expression is
// true. Compile and runtime failures are returned as errors; callers treat
// them as "condition is false" and never propagate them.
func (e *ConditionEvaluator) Evaluate(expression string, context map[string]any) (bool, error) {
	if expression == "" {
		return true, nil
	}

	program, err := e.getOrCompile(expression)
	if err != nil {
		return false, err
	}

	env := context
	if env == nil {
		env = map[string]any{}
	}

	out, err := vm.Run(program, env)
	if err != nil {
		return false, fmt.Errorf("condition %q evaluation failed: %w", expression, err)
	}

	result, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("condition %q did not evaluate to a boolean (got %T)", expression, out)
	}

	return result, nil
}

func (e *ConditionEvaluator) getOrCompile(expression string) (*vm.Program, error) {
	e.mu.RLock()
	program, ok := e.cache[expression]
	e.mu.RUnlock()

	if ok {
		return program, nil
	}

	program, err := expr.Compile(expression,
		expr.Env(map[string]any{}),
		expr.AllowUndefinedVariables(),
	)
	if err != nil {
		return nil, fmt.Errorf("condition %q compile failed: %w", expression, err)
	}

	e.mu.Lock()
	e.cache[expression] = program
	e.mu.Unlock()

	return program, nil
}
