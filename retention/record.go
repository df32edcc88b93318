package retention

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/liamcoop/retention/repository"
)

// RecordFacet marks a document as a record.
const RecordFacet = "Record"

// Document property keys used to persist a record.
const (
	PropDurationYears           = "retention_def:durationYears"
	PropDurationMonths          = "retention_def:durationMonths"
	PropDurationDays            = "retention_def:durationDays"
	PropDurationMillis          = "retention_def:durationMillis"
	PropExpression              = "retention_def:expression"
	PropBeginActions            = "retention_def:beginActions"
	PropEndActions              = "retention_def:endActions"
	PropStartingPointPolicy     = "retention_def:startingPointPolicy"
	PropStartingPointEvent      = "retention_def:startingPointEvent"
	PropStartingPointExpression = "retention_def:startingPointExpression"
)

var recordProps = []string{
	PropDurationYears, PropDurationMonths, PropDurationDays, PropDurationMillis,
	PropExpression, PropBeginActions, PropEndActions,
	PropStartingPointPolicy, PropStartingPointEvent, PropStartingPointExpression,
}

// Record is the retention state attached to one document.
type Record struct {
	DocumentID string `json:"documentId"`
	RetentionFields
	RetainUntil repository.Marker `json:"retainUntil"`
}

// IsRetentionExpired reports whether the record no longer retains its
// document at now: no marker at all, or a concrete instant at or before now.
func (r *Record) IsRetentionExpired(now time.Time) bool {
	return r.RetainUntil.ExpiredAt(now)
}

// IsRetainUntilIndeterminate reports whether the expiry is still unknown.
func (r *Record) IsRetainUntilIndeterminate() bool {
	return r.RetainUntil.IsIndeterminate()
}

// ComputeRetainUntil returns now plus the record's duration.
func (r *Record) ComputeRetainUntil(calc Calculator, now time.Time) time.Time {
	return calc.RetainUntil(now, r.Duration)
}

// ApplyTo writes the record's fields into the document properties.
func (r *Record) ApplyTo(doc *repository.Document) {
	setOrClear(doc, PropDurationYears, r.Duration.Years)
	setOrClear(doc, PropDurationMonths, r.Duration.Months)
	setOrClear(doc, PropDurationDays, r.Duration.Days)
	setOrClear(doc, PropDurationMillis, r.Duration.Millis)
	setOrClear(doc, PropExpression, r.Expression)
	setOrClear(doc, PropBeginActions, r.BeginActions)
	setOrClear(doc, PropEndActions, r.EndActions)
	setOrClear(doc, PropStartingPointPolicy, string(r.policy()))
	setOrClear(doc, PropStartingPointEvent, r.StartingPointEvent)
	setOrClear(doc, PropStartingPointExpression, r.StartingPointExpression)
}

// ClearRecordProperties removes every record property from the document.
func ClearRecordProperties(doc *repository.Document) {
	for _, key := range recordProps {
		doc.SetProperty(key, nil)
	}
}

// RecordFromDocument decodes the record stored on doc.
// Numbers and string lists are accepted in their JSON-decoded shapes too.
func RecordFromDocument(doc *repository.Document, marker repository.Marker) (*Record, error) {
	r := &Record{DocumentID: doc.ID, RetainUntil: marker}

	var err error
	if r.Duration.Years, err = intProp(doc, PropDurationYears); err != nil {
		return nil, err
	}
	if r.Duration.Months, err = intProp(doc, PropDurationMonths); err != nil {
		return nil, err
	}
	if r.Duration.Days, err = intProp(doc, PropDurationDays); err != nil {
		return nil, err
	}
	if r.Duration.Millis, err = intProp(doc, PropDurationMillis); err != nil {
		return nil, err
	}
	if r.BeginActions, err = stringsProp(doc, PropBeginActions); err != nil {
		return nil, err
	}
	if r.EndActions, err = stringsProp(doc, PropEndActions); err != nil {
		return nil, err
	}

	policy, err := ParseStartingPointPolicy(stringProp(doc, PropStartingPointPolicy))
	if err != nil {
		return nil, fmt.Errorf("document %s: %w", doc.ID, err)
	}
	r.StartingPointPolicy = policy
	r.Expression = stringProp(doc, PropExpression)
	r.StartingPointEvent = stringProp(doc, PropStartingPointEvent)
	r.StartingPointExpression = stringProp(doc, PropStartingPointExpression)
	return r, nil
}

func setOrClear(doc *repository.Document, key string, value any) {
	switch v := value.(type) {
	case int64:
		if v == 0 {
			value = nil
		}
	case string:
		if v == "" {
			value = nil
		}
	case []string:
		if len(v) == 0 {
			value = nil
		}
	}
	doc.SetProperty(key, value)
}

func stringProp(doc *repository.Document, key string) string {
	s, _ := doc.Property(key).(string)
	return s
}

func intProp(doc *repository.Document, key string) (int64, error) {
	switch v := doc.Property(key).(type) {
	case nil:
		return 0, nil
	case int:
		return int64(v), nil
	case int64:
		return v, nil
	case float64:
		return int64(v), nil
	case json.Number:
		return v.Int64()
	default:
		return 0, fmt.Errorf("property %s: unexpected type %T", key, v)
	}
}

func stringsProp(doc *repository.Document, key string) ([]string, error) {
	switch v := doc.Property(key).(type) {
	case nil:
		return nil, nil
	case []string:
		return append([]string(nil), v...), nil
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("property %s: unexpected element type %T", key, item)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("property %s: unexpected type %T", key, v)
	}
}
