// Package cel provides the CEL-based condition criterion for rules.
package cel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/cel-go/cel"

	"github.com/intentgate/intentgate/internal/domain/message"
	"github.com/intentgate/intentgate/internal/domain/rule"
)

const (
	maxExpressionLength = 1024
	maxNestingDepth     = 50

	defaultCostLimit   = 100_000
	defaultEvalTimeout = 50 * time.Millisecond

	// interruptEvery is the comprehension iteration count between
	// cancellation checks.
	interruptEvery = 100
)

// Evaluator compiles and evaluates CEL conditions over messages.
type Evaluator struct {
	env       *cel.Env
	costLimit uint64
	timeout   time.Duration
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithCostLimit caps the runtime cost of a single evaluation.
func WithCostLimit(limit uint64) Option {
	return func(e *Evaluator) { e.costLimit = limit }
}

// WithEvalTimeout bounds a single evaluation. Conditions sit on the
// interception path, so keep this short.
func WithEvalTimeout(d time.Duration) Option {
	return func(e *Evaluator) { e.timeout = d }
}

// NewEvaluator creates an evaluator over the message environment.
func NewEvaluator(opts ...Option) (*Evaluator, error) {
	env, err := NewMessageEnvironment()
	if err != nil {
		return nil, fmt.Errorf("creating message environment: %w", err)
	}
	e := &Evaluator{env: env, costLimit: defaultCostLimit, timeout: defaultEvalTimeout}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Compile type-checks expression and plans a program for it. The expression
// must produce a bool (or dyn, checked at evaluation).
func (e *Evaluator) Compile(expression string) (cel.Program, error) {
	ast, iss := e.env.Compile(expression)
	if err := iss.Err(); err != nil {
		return nil, fmt.Errorf("compilation failed: %w", err)
	}
	if out := ast.OutputType(); !out.IsExactType(cel.BoolType) && !out.IsExactType(cel.DynType) {
		return nil, fmt.Errorf("expression must return bool, got %s", out)
	}

	return e.env.Program(ast,
		cel.EvalOptions(cel.OptOptimize),
		cel.CostLimit(e.costLimit),
		cel.InterruptCheckFrequency(interruptEvery),
	)
}

// ValidateExpression applies the length and nesting limits and then
// compiles expr.
func (e *Evaluator) ValidateExpression(expr string) error {
	_, err := e.prepare(expr)
	return err
}

func (e *Evaluator) prepare(expr string) (cel.Program, error) {
	switch {
	case expr == "":
		return nil, errors.New("expression is empty")
	case len(expr) > maxExpressionLength:
		return nil, fmt.Errorf("expression too long: %d characters (max %d)", len(expr), maxExpressionLength)
	}
	if depth := nestingDepth(expr); depth > maxNestingDepth {
		return nil, fmt.Errorf("expression nesting too deep: %d levels (max %d)", depth, maxNestingDepth)
	}
	prg, err := e.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid CEL expression: %w", err)
	}
	return prg, nil
}

// nestingDepth returns the deepest bracket nesting in expr. Balance is left
// to the parser.
func nestingDepth(expr string) int {
	depth, deepest := 0, 0
	for _, ch := range expr {
		switch ch {
		case '(', '[', '{':
			depth++
			deepest = max(deepest, depth)
		case ')', ']', '}':
			depth--
		}
	}
	return deepest
}

// Evaluate runs prg against msg under the evaluation timeout.
func (e *Evaluator) Evaluate(prg cel.Program, msg *message.Message) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
	defer cancel()

	out, _, err := prg.ContextEval(ctx, BuildActivation(msg))
	if err != nil {
		return false, fmt.Errorf("evaluation failed: %w", err)
	}
	b, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("expression did not return a boolean, got %T", out.Value())
	}
	return b, nil
}

// CompileCondition implements rule.ConditionCompiler.
func (e *Evaluator) CompileCondition(expr string) (rule.Condition, error) {
	prg, err := e.prepare(expr)
	if err != nil {
		return nil, err
	}
	return &condition{expr: expr, prg: prg, eval: e}, nil
}

type condition struct {
	expr string
	prg  cel.Program
	eval *Evaluator
}

func (c *condition) Expression() string { return c.expr }

func (c *condition) Matches(msg *message.Message) (bool, error) {
	return c.eval.Evaluate(c.prg, msg)
}

var _ rule.ConditionCompiler = (*Evaluator)(nil)
