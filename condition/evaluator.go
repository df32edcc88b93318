// Package condition evaluates the boolean CEL expressions carried by
// retention rules and records.
package condition

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/cel-go/cel"

	"github.com/liamcoop/retention/internal/logger"
	"github.com/liamcoop/retention/repository"
)

// DefaultCostLimit bounds the work a single evaluation may do.
const DefaultCostLimit = 1_000_000

// Variables is the context an expression is evaluated against.
type Variables struct {
	Now       time.Time
	Document  *repository.Document
	Principal string
}

// activation converts the variables into the read-only CEL bindings.
func (v Variables) activation() map[string]any {
	doc := map[string]any{}
	if d := v.Document; d != nil {
		props := d.Properties
		if props == nil {
			props = map[string]any{}
		}
		facets := d.Facets
		if facets == nil {
			facets = []string{}
		}
		doc = map[string]any{
			"id":         d.ID,
			"type":       d.Type,
			"name":       d.Name,
			"path":       d.Path,
			"locked":     d.Locked,
			"trashed":    d.Trashed,
			"facets":     facets,
			"properties": props,
			"version":    d.Version,
		}
	}
	return map[string]any{
		"currentDate": v.Now,
		"document":    doc,
		"principal":   v.Principal,
	}
}

// Evaluator compiles and runs expressions. Compiled programs are cached by
// expression text. Safe for concurrent use.
type Evaluator struct {
	env       *cel.Env
	costLimit uint64
	programs  map[string]cel.Program
	mu        sync.RWMutex
	log       *slog.Logger
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithCostLimit overrides DefaultCostLimit.
func WithCostLimit(limit uint64) Option {
	return func(e *Evaluator) { e.costLimit = limit }
}

// WithLogger sets the logger used by Check.
func WithLogger(l *slog.Logger) Option {
	return func(e *Evaluator) { e.log = l }
}

// NewEvaluator creates an evaluator declaring currentDate, document and principal.
func NewEvaluator(opts ...Option) (*Evaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("currentDate", cel.TimestampType),
		cel.Variable("document", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("principal", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	e := &Evaluator{
		env:       env,
		costLimit: DefaultCostLimit,
		programs:  make(map[string]cel.Program),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.log == nil {
		e.log = logger.For("condition")
	}
	return e, nil
}

// Compile checks the expression and caches its program.
// Empty expressions always compile.
func (e *Evaluator) Compile(expression string) error {
	if strings.TrimSpace(expression) == "" {
		return nil
	}
	_, err := e.program(expression)
	return err
}

func (e *Evaluator) program(expression string) (cel.Program, error) {
	e.mu.RLock()
	prog, ok := e.programs[expression]
	e.mu.RUnlock()
	if ok {
		return prog, nil
	}

	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile error: %w", issues.Err())
	}
	prog, err := e.env.Program(ast, cel.CostLimit(e.costLimit))
	if err != nil {
		return nil, fmt.Errorf("program creation error: %w", err)
	}

	e.mu.Lock()
	e.programs[expression] = prog
	e.mu.Unlock()
	return prog, nil
}

// Evaluate runs the expression. An empty expression is true; a non-boolean
// result is false.
func (e *Evaluator) Evaluate(expression string, vars Variables) (bool, error) {
	if strings.TrimSpace(expression) == "" {
		return true, nil
	}

	prog, err := e.program(expression)
	if err != nil {
		return false, err
	}

	out, _, err := prog.Eval(vars.activation())
	if err != nil {
		return false, fmt.Errorf("evaluation error: %w", err)
	}

	matched, ok := out.Value().(bool)
	return ok && matched, nil
}

// Check is Evaluate with errors logged and treated as false.
func (e *Evaluator) Check(expression string, vars Variables) bool {
	ok, err := e.Evaluate(expression, vars)
	if err != nil {
		docID := ""
		if vars.Document != nil {
			docID = vars.Document.ID
		}
		logger.ConditionError(e.log, "condition evaluation failed",
			"expression", expression, "document", docID, "error", err)
		return false
	}
	return ok
}

// Cached returns the number of compiled programs held.
func (e *Evaluator) Cached() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.programs)
}
