package repository

import (
	"encoding/json"
	"fmt"
	"time"
)

// MarkerKind tells how a retention marker should be read.
type MarkerKind int

const (
	// MarkerNone means the object is not under retention.
	MarkerNone MarkerKind = iota
	// MarkerIndeterminate means retained until a future condition resolves the date.
	MarkerIndeterminate
	// MarkerInstant means retained until Marker.Until.
	MarkerInstant
)

func (k MarkerKind) String() string {
	switch k {
	case MarkerIndeterminate:
		return "indeterminate"
	case MarkerInstant:
		return "instant"
	default:
		return "none"
	}
}

// Marker is the retain-until state of an object.
type Marker struct {
	Kind  MarkerKind
	Until time.Time
}

// NoMarker returns the absent marker.
func NoMarker() Marker { return Marker{} }

// IndeterminateMarker returns the "until a future condition" sentinel.
func IndeterminateMarker() Marker { return Marker{Kind: MarkerIndeterminate} }

// MarkerUntil returns a concrete marker.
func MarkerUntil(t time.Time) Marker { return Marker{Kind: MarkerInstant, Until: t} }

// IsNone reports whether no retention applies.
func (m Marker) IsNone() bool { return m.Kind == MarkerNone }

// IsIndeterminate reports whether the marker is the indeterminate sentinel.
func (m Marker) IsIndeterminate() bool { return m.Kind == MarkerIndeterminate }

// IsInstant reports whether the marker holds a concrete instant.
func (m Marker) IsInstant() bool { return m.Kind == MarkerInstant }

// ExpiredAt reports whether the marker no longer retains the object at now.
func (m Marker) ExpiredAt(now time.Time) bool {
	switch m.Kind {
	case MarkerNone:
		return true
	case MarkerInstant:
		return !now.Before(m.Until)
	default:
		return false
	}
}

func (m Marker) String() string {
	if m.Kind == MarkerInstant {
		return m.Until.Format(time.RFC3339Nano)
	}
	return m.Kind.String()
}

type markerJSON struct {
	Kind  string     `json:"kind"`
	Until *time.Time `json:"until,omitempty"`
}

// MarshalJSON renders the marker as {"kind": ..., "until": ...}.
func (m Marker) MarshalJSON() ([]byte, error) {
	out := markerJSON{Kind: m.Kind.String()}
	if m.Kind == MarkerInstant {
		u := m.Until
		out.Until = &u
	}
	return json.Marshal(out)
}

// UnmarshalJSON parses the form produced by MarshalJSON.
func (m *Marker) UnmarshalJSON(data []byte) error {
	var in markerJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	switch in.Kind {
	case "", "none":
		*m = NoMarker()
	case "indeterminate":
		*m = IndeterminateMarker()
	case "instant":
		if in.Until == nil {
			return fmt.Errorf("instant marker requires until")
		}
		*m = MarkerUntil(*in.Until)
	default:
		return fmt.Errorf("unknown marker kind %q", in.Kind)
	}
	return nil
}
