// Package events holds the notification types that feed the retention
// dispatcher and the cached allow-list of event names the engine reacts to.
package events

import "sort"

// Event names emitted by the built-in repositories.
const (
	DocumentCreated  = "documentCreated"
	DocumentModified = "documentModified"
	DocumentMoved    = "documentMoved"
	DocumentLocked   = "documentLocked"
	DocumentUnlocked = "documentUnlocked"
	DocumentTrashed  = "documentTrashed"
	DocumentRemoved  = "documentRemoved"
)

// IgnoreProperty marks a notification produced by a retention write.
// The dispatcher drops the first such notification per object per bundle.
const IgnoreProperty = "retentionCheckerListenerIgnore"

// Notification is a single post-commit change notification.
type Notification struct {
	Name       string         `json:"name"`
	ObjectID   string         `json:"objectId"`
	Properties map[string]any `json:"properties,omitempty"`
}

// Ignored reports whether the notification carries the ignore flag.
func (n Notification) Ignored() bool {
	if n.Properties == nil {
		return false
	}
	_, ok := n.Properties[IgnoreProperty]
	return ok
}

// Bundle is the ordered set of notifications committed by one transaction.
type Bundle []Notification

// Set is a set of distinct event names.
type Set map[string]struct{}

// NewSet creates a set from names.
func NewSet(names ...string) Set {
	s := make(Set, len(names))
	for _, n := range names {
		s.Add(n)
	}
	return s
}

// Add inserts name into the set.
func (s Set) Add(name string) {
	s[name] = struct{}{}
}

// Contains reports whether name is in the set.
func (s Set) Contains(name string) bool {
	_, ok := s[name]
	return ok
}

// Sorted returns the names in lexical order.
func (s Set) Sorted() []string {
	out := make([]string, 0, len(s))
	for n := range s {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Batch maps an object id to the events observed for it within one bundle.
type Batch map[string]Set

// Add records that name was observed for objectID.
func (b Batch) Add(objectID, name string) {
	set, ok := b[objectID]
	if !ok {
		set = make(Set)
		b[objectID] = set
	}
	set.Add(name)
}

// ObjectIDs returns the object ids in lexical order.
func (b Batch) ObjectIDs() []string {
	ids := make([]string, 0, len(b))
	for id := range b {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
