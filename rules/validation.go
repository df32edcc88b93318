package rules

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/liamcoop/retention/retention"
)

// ErrInvalidRule wraps every validation failure.
var ErrInvalidRule = errors.New("invalid rule")

const (
	maxNameLength = 200
	maxActions    = 50
	maxDocTypes   = 100
)

var (
	actionIDPattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*(\.[A-Za-z][A-Za-z0-9_]*)*$`)
	docTypePattern  = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
)

// Compiler checks that an expression compiles.
type Compiler interface {
	Compile(expression string) error
}

// Validator checks rules before they are stored.
type Validator struct {
	// Compiler checks expressions; nil skips the check.
	Compiler Compiler
	// KnownAction reports whether an operation id exists; nil skips the check.
	KnownAction func(id string) bool
}

// Validate returns the first problem found in rule, wrapped in ErrInvalidRule.
func (v Validator) Validate(rule *retention.Rule) error {
	if err := v.validate(rule); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRule, err)
	}
	return nil
}

func (v Validator) validate(rule *retention.Rule) error {
	if rule == nil {
		return fmt.Errorf("rule is nil")
	}

	name := strings.TrimSpace(rule.Name)
	if name == "" {
		return fmt.Errorf("name cannot be empty")
	}
	if len(name) > maxNameLength {
		return fmt.Errorf("name length %d exceeds maximum of %d characters", len(name), maxNameLength)
	}

	if _, err := retention.ParseApplicationPolicy(string(rule.ApplicationPolicy)); err != nil {
		return err
	}
	switch rule.StartingPointPolicy {
	case "", retention.StartImmediate, retention.StartEventBased:
	default:
		return fmt.Errorf("starting point policy %q is not available on rules (must be %s or %s)",
			rule.StartingPointPolicy, retention.StartImmediate, retention.StartEventBased)
	}

	d := rule.Duration
	if d.Years < 0 || d.Months < 0 || d.Days < 0 || d.Millis < 0 {
		return fmt.Errorf("duration components cannot be negative: %+v", d)
	}
	if m := retention.MaxDuration; d.Years > m.Years || d.Months > m.Months || d.Days > m.Days || d.Millis > m.Millis {
		return fmt.Errorf("duration %+v exceeds the maximum of %+v", d, m)
	}

	if rule.IsEventBased() && strings.TrimSpace(rule.StartingPointEvent) == "" {
		return fmt.Errorf("event based rule requires a starting point event")
	}

	if err := v.validateActions("begin", rule.BeginActions); err != nil {
		return err
	}
	if err := v.validateActions("end", rule.EndActions); err != nil {
		return err
	}

	if len(rule.AcceptedDocTypes) > maxDocTypes {
		return fmt.Errorf("rule accepts %d document types, maximum allowed is %d", len(rule.AcceptedDocTypes), maxDocTypes)
	}
	for _, t := range rule.AcceptedDocTypes {
		if !docTypePattern.MatchString(t) {
			return fmt.Errorf("invalid document type %q", t)
		}
	}

	if v.Compiler != nil {
		if rule.IsAuto() {
			if err := v.Compiler.Compile(rule.Expression); err != nil {
				return fmt.Errorf("expression: %w", err)
			}
		}
		if rule.IsEventBased() {
			if err := v.Compiler.Compile(rule.StartingPointExpression); err != nil {
				return fmt.Errorf("starting point expression: %w", err)
			}
		}
	}
	return nil
}

func (v Validator) validateActions(kind string, ids []string) error {
	if len(ids) > maxActions {
		return fmt.Errorf("%s actions contain %d entries, maximum allowed is %d", kind, len(ids), maxActions)
	}
	for _, id := range ids {
		if !actionIDPattern.MatchString(id) {
			return fmt.Errorf("%s action %q must look like Category.Name", kind, id)
		}
		if v.KnownAction != nil && !v.KnownAction(id) {
			return fmt.Errorf("%s action %q is not registered", kind, id)
		}
	}
	return nil
}
