package retention

import (
	"errors"
	"fmt"
)

var (
	// ErrNotARule is returned when attaching something that is not a stored rule.
	ErrNotARule = errors.New("not a retention rule")
	// ErrRuleDisabled is returned when attaching a disabled rule.
	ErrRuleDisabled = errors.New("retention rule is disabled")
	// ErrAlreadyRecord is returned when the document is already under retention.
	ErrAlreadyRecord = errors.New("document is already a record")
	// ErrDocTypeNotAccepted is returned when the rule excludes the document type.
	ErrDocTypeNotAccepted = errors.New("document type not accepted by rule")
)

// ConfigError reports an attach request rejected before any state change.
type ConfigError struct {
	RuleID     string
	DocumentID string
	Err        error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("cannot attach rule %q to document %q: %v", e.RuleID, e.DocumentID, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// IsConfigError reports whether err is, or wraps, a *ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}
