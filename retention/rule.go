package retention

import (
	"slices"
	"time"
)

// Rule is a reusable retention policy template.
type Rule struct {
	ID                string            `json:"id"`
	Name              string            `json:"name"`
	ApplicationPolicy ApplicationPolicy `json:"applicationPolicy"`
	RetentionFields
	Enabled          bool      `json:"enabled"`
	AcceptedDocTypes []string  `json:"acceptedDocTypes,omitempty"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// IsAuto reports whether the rule applies itself when its expression matches.
func (r *Rule) IsAuto() bool { return r.ApplicationPolicy == PolicyAuto }

// IsManual reports whether the rule is attached explicitly.
func (r *Rule) IsManual() bool { return !r.IsAuto() }

// Enable marks the rule as usable.
func (r *Rule) Enable() { r.Enabled = true }

// Disable prevents the rule from being attached.
func (r *Rule) Disable() { r.Enabled = false }

// IsEnabled reports whether the rule can be attached.
func (r *Rule) IsEnabled() bool { return r.Enabled }

// IsDocTypeAccepted reports whether documents of docType may receive the rule.
// An empty filter accepts every type.
func (r *Rule) IsDocTypeAccepted(docType string) bool {
	return len(r.AcceptedDocTypes) == 0 || slices.Contains(r.AcceptedDocTypes, docType)
}

// Clone returns a copy of the rule that shares no slices with r.
func (r *Rule) Clone() *Rule {
	cp := *r
	cp.BeginActions = slices.Clone(r.BeginActions)
	cp.EndActions = slices.Clone(r.EndActions)
	cp.AcceptedDocTypes = slices.Clone(r.AcceptedDocTypes)
	return &cp
}

// CopyRetentionInfo copies the retention settings of rule into record.
//
// Durations, action lists and the starting-point policy are always copied.
// The expression is copied only for auto rules, and the starting-point event
// and expression only for event-based rules; otherwise they are cleared.
func CopyRetentionInfo(rule *Rule, record *Record) {
	record.Duration = rule.Duration
	record.BeginActions = slices.Clone(rule.BeginActions)
	record.EndActions = slices.Clone(rule.EndActions)
	record.StartingPointPolicy = rule.policy()

	record.Expression = ""
	if rule.IsAuto() {
		record.Expression = rule.Expression
	}

	record.StartingPointEvent = ""
	record.StartingPointExpression = ""
	if rule.IsEventBased() {
		record.StartingPointEvent = rule.StartingPointEvent
		record.StartingPointExpression = rule.StartingPointExpression
	}
}
