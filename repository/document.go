// Package repository defines the object repository the retention engine
// works against, with in-memory and PostgreSQL implementations.
package repository

import (
	"encoding/json"
	"fmt"
	"path"
	"slices"
	"time"
)

// Document is a repository object. Properties is the generic attribute bag;
// typed views (such as retention records) decode from it at the boundary.
type Document struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	Name       string         `json:"name"`
	Path       string         `json:"path"`
	Locked     bool           `json:"locked"`
	Trashed    bool           `json:"trashed"`
	Facets     []string       `json:"facets,omitempty"`
	Properties map[string]any `json:"properties,omitempty"`
	Version    int64          `json:"version"`
	ModifiedAt time.Time      `json:"modifiedAt"`
}

// HasFacet reports whether the document carries facet.
func (d *Document) HasFacet(facet string) bool {
	return slices.Contains(d.Facets, facet)
}

// AddFacet adds facet if missing.
func (d *Document) AddFacet(facet string) {
	if !d.HasFacet(facet) {
		d.Facets = append(d.Facets, facet)
	}
}

// RemoveFacet removes facet if present.
func (d *Document) RemoveFacet(facet string) {
	d.Facets = slices.DeleteFunc(d.Facets, func(f string) bool { return f == facet })
}

// Property returns the raw value of a property.
func (d *Document) Property(key string) any {
	if d.Properties == nil {
		return nil
	}
	return d.Properties[key]
}

// SetProperty sets a property, deleting it when value is nil.
func (d *Document) SetProperty(key string, value any) {
	if value == nil {
		delete(d.Properties, key)
		return
	}
	if d.Properties == nil {
		d.Properties = make(map[string]any)
	}
	d.Properties[key] = value
}

// Clone returns a deep copy of the document.
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	cp := *d
	cp.Facets = slices.Clone(d.Facets)
	if d.Properties != nil {
		cp.Properties = make(map[string]any, len(d.Properties))
		for k, v := range d.Properties {
			cp.Properties[k] = cloneValue(v)
		}
	}
	return &cp
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case []string:
		return slices.Clone(t)
	case []any:
		return slices.Clone(t)
	default:
		return v
	}
}

// childPath joins a parent path and a name.
func childPath(parent, name string) string {
	if parent == "" {
		parent = "/"
	}
	return path.Join(parent, name)
}

func encodeProperties(props map[string]any) ([]byte, error) {
	if props == nil {
		props = map[string]any{}
	}
	data, err := json.Marshal(props)
	if err != nil {
		return nil, fmt.Errorf("failed to encode properties: %w", err)
	}
	return data, nil
}

func decodeProperties(data []byte) (map[string]any, error) {
	props := map[string]any{}
	if len(data) == 0 {
		return props, nil
	}
	if err := json.Unmarshal(data, &props); err != nil {
		return nil, fmt.Errorf("failed to decode properties: %w", err)
	}
	return props, nil
}
