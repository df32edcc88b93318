package repository

import (
	"encoding/json"
	"testing"
	"time"
)

func TestMarkerExpiredAt(t *testing.T) {
	now := time.Date(2024, time.June, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		marker Marker
		want   bool
	}{
		{"none", NoMarker(), true},
		{"indeterminate", IndeterminateMarker(), false},
		{"past", MarkerUntil(now.Add(-time.Second)), true},
		{"now", MarkerUntil(now), true},
		{"future", MarkerUntil(now.Add(time.Second)), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.marker.ExpiredAt(now); got != tt.want {
				t.Errorf("ExpiredAt() = %t, want %t", got, tt.want)
			}
		})
	}
}

func TestMarkerJSON(t *testing.T) {
	until := time.Date(2025, time.January, 2, 3, 4, 5, 0, time.UTC)
	for _, m := range []Marker{NoMarker(), IndeterminateMarker(), MarkerUntil(until)} {
		data, err := json.Marshal(m)
		if err != nil {
			t.Fatalf("Marshal(%s) failed: %v", m, err)
		}
		var back Marker
		if err := json.Unmarshal(data, &back); err != nil {
			t.Fatalf("Unmarshal(%s) failed: %v", data, err)
		}
		if back.Kind != m.Kind || !back.Until.Equal(m.Until) {
			t.Errorf("round trip of %s gave %s", m, back)
		}
	}

	var bad Marker
	if err := json.Unmarshal([]byte(`{"kind":"instant"}`), &bad); err == nil {
		t.Error("instant without until should fail")
	}
	if err := json.Unmarshal([]byte(`{"kind":"forever"}`), &bad); err == nil {
		t.Error("unknown kind should fail")
	}
}

func TestDocumentFacetsAndClone(t *testing.T) {
	d := &Document{ID: "a", Properties: map[string]any{"tags": []string{"x"}}}
	d.AddFacet("Record")
	d.AddFacet("Record")
	if len(d.Facets) != 1 || !d.HasFacet("Record") {
		t.Errorf("Facets = %v", d.Facets)
	}

	cp := d.Clone()
	cp.Properties["tags"].([]string)[0] = "y"
	cp.RemoveFacet("Record")

	if d.Properties["tags"].([]string)[0] != "x" {
		t.Error("Clone should copy string slices")
	}
	if !d.HasFacet("Record") || cp.HasFacet("Record") {
		t.Error("facets should be independent after Clone")
	}
}
