package retention

import "fmt"

// ApplicationPolicy tells whether a rule is attached by an administrator or
// applied automatically when its expression matches.
type ApplicationPolicy string

const (
	PolicyAuto   ApplicationPolicy = "auto"
	PolicyManual ApplicationPolicy = "manual"
)

// ParseApplicationPolicy parses "auto" or "manual".
func ParseApplicationPolicy(s string) (ApplicationPolicy, error) {
	switch p := ApplicationPolicy(s); p {
	case PolicyAuto, PolicyManual:
		return p, nil
	default:
		return "", fmt.Errorf("unknown application policy %q", s)
	}
}

// StartingPointPolicy tells when the retention clock of a record starts.
type StartingPointPolicy string

const (
	StartImmediate     StartingPointPolicy = "immediate"
	StartAfterDelay    StartingPointPolicy = "after_delay"
	StartEventBased    StartingPointPolicy = "event_based"
	StartMetadataBased StartingPointPolicy = "metadata_based"
)

// ParseStartingPointPolicy parses one of the four starting-point policies.
// An empty string is read as immediate.
func ParseStartingPointPolicy(s string) (StartingPointPolicy, error) {
	switch p := StartingPointPolicy(s); p {
	case "":
		return StartImmediate, nil
	case StartImmediate, StartAfterDelay, StartEventBased, StartMetadataBased:
		return p, nil
	default:
		return "", fmt.Errorf("unknown starting point policy %q", s)
	}
}

// RetentionFields holds the retention settings shared by rules and records.
type RetentionFields struct {
	Duration                Duration            `json:"duration"`
	StartingPointPolicy     StartingPointPolicy `json:"startingPointPolicy"`
	StartingPointEvent      string              `json:"startingPointEvent,omitempty"`
	StartingPointExpression string              `json:"startingPointExpression,omitempty"`
	Expression              string              `json:"expression,omitempty"`
	BeginActions            []string            `json:"beginActions,omitempty"`
	EndActions              []string            `json:"endActions,omitempty"`
}

func (f RetentionFields) policy() StartingPointPolicy {
	if f.StartingPointPolicy == "" {
		return StartImmediate
	}
	return f.StartingPointPolicy
}

// IsImmediate reports whether retention starts at attach time.
func (f RetentionFields) IsImmediate() bool { return f.policy() == StartImmediate }

// IsAfterDelay reports whether retention starts after a delay.
func (f RetentionFields) IsAfterDelay() bool { return f.policy() == StartAfterDelay }

// IsEventBased reports whether retention starts on a qualifying event.
func (f RetentionFields) IsEventBased() bool { return f.policy() == StartEventBased }

// IsMetadataBased reports whether retention starts from a metadata field.
func (f RetentionFields) IsMetadataBased() bool { return f.policy() == StartMetadataBased }
