package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/liamcoop/retention/events"
)

// Memory implements Repository using in-memory maps.
// Thread-safe; documents are copied on the way in and out.
type Memory struct {
	notifiers

	docs    map[string]*Document
	markers map[string]Marker
	mu      sync.RWMutex

	// Now is the clock used for modification times and retention checks.
	Now func() time.Time
}

// NewMemory creates an empty in-memory repository.
func NewMemory() *Memory {
	return &Memory{
		docs:    make(map[string]*Document),
		markers: make(map[string]Marker),
		Now:     time.Now,
	}
}

func (m *Memory) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now()
}

// Get returns a copy of the document.
func (m *Memory) Get(_ context.Context, id string) (*Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	doc, ok := m.docs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return doc.Clone(), nil
}

// Create stores a new document. An id is generated when empty and the path
// defaults to /<name>.
func (m *Memory) Create(ctx context.Context, doc *Document) (*Document, error) {
	cp := doc.Clone()
	if cp.ID == "" {
		cp.ID = uuid.NewString()
	}
	if cp.Path == "" {
		cp.Path = childPath("/", cp.Name)
	}
	cp.Version = 1
	cp.ModifiedAt = m.now()

	m.mu.Lock()
	if _, exists := m.docs[cp.ID]; exists {
		m.mu.Unlock()
		return nil, fmt.Errorf("document with ID %s already exists", cp.ID)
	}
	m.docs[cp.ID] = cp
	m.mu.Unlock()

	m.emit(ctx, events.DocumentCreated, cp.ID, WriteNormal)
	return cp.Clone(), nil
}

// Save replaces the stored document. See WriteMode for side effects.
func (m *Memory) Save(ctx context.Context, doc *Document, mode WriteMode) (*Document, error) {
	m.mu.Lock()
	existing, ok := m.docs[doc.ID]
	if !ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrNotFound, doc.ID)
	}
	cp := doc.Clone()
	if mode == WriteRetention {
		cp.Version = existing.Version
		cp.ModifiedAt = existing.ModifiedAt
	} else {
		cp.Version = existing.Version + 1
		cp.ModifiedAt = m.now()
	}
	m.docs[cp.ID] = cp
	m.mu.Unlock()

	m.emit(ctx, events.DocumentModified, cp.ID, mode)
	return cp.Clone(), nil
}

// Move re-parents the document under parentPath.
func (m *Memory) Move(ctx context.Context, id, parentPath string) (*Document, error) {
	m.mu.Lock()
	doc, ok := m.docs[id]
	if !ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	doc.Path = childPath(parentPath, doc.Name)
	doc.Version++
	doc.ModifiedAt = m.now()
	out := doc.Clone()
	m.mu.Unlock()

	m.emit(ctx, events.DocumentMoved, id, WriteNormal)
	return out, nil
}

// SetLocked locks or unlocks the document.
// Returns ErrLockState when the document is already in the requested state.
func (m *Memory) SetLocked(ctx context.Context, id string, locked bool) (*Document, error) {
	m.mu.Lock()
	doc, ok := m.docs[id]
	if !ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if doc.Locked == locked {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s locked=%t", ErrLockState, id, locked)
	}
	doc.Locked = locked
	out := doc.Clone()
	m.mu.Unlock()

	name := events.DocumentUnlocked
	if locked {
		name = events.DocumentLocked
	}
	m.emit(ctx, name, id, WriteNormal)
	return out, nil
}

// Trash moves the document to the trash.
func (m *Memory) Trash(ctx context.Context, id string) (*Document, error) {
	m.mu.Lock()
	doc, ok := m.docs[id]
	if !ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	doc.Trashed = true
	out := doc.Clone()
	m.mu.Unlock()

	m.emit(ctx, events.DocumentTrashed, id, WriteNormal)
	return out, nil
}

// Delete removes the document. A document whose marker still retains it
// cannot be deleted.
func (m *Memory) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	if _, ok := m.docs[id]; !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if marker := m.markers[id]; !marker.ExpiredAt(m.now()) {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s until %s", ErrUnderRetention, id, marker)
	}
	delete(m.docs, id)
	delete(m.markers, id)
	m.mu.Unlock()

	m.emit(ctx, events.DocumentRemoved, id, WriteNormal)
	return nil
}

// RetentionMarker returns the marker of the document.
func (m *Memory) RetentionMarker(_ context.Context, id string) (Marker, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.docs[id]; !ok {
		return Marker{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return m.markers[id], nil
}

// SetRetentionMarker replaces the marker. NoMarker clears it.
func (m *Memory) SetRetentionMarker(_ context.Context, id string, marker Marker) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.docs[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if marker.IsNone() {
		delete(m.markers, id)
		return nil
	}
	m.markers[id] = marker
	return nil
}

// IsUnderRetention reports whether the document has any marker.
func (m *Memory) IsUnderRetention(ctx context.Context, id string) (bool, error) {
	marker, err := m.RetentionMarker(ctx, id)
	if err != nil {
		return false, err
	}
	return !marker.IsNone(), nil
}

// FindExpired returns ids with a concrete marker at or before now, sorted.
func (m *Memory) FindExpired(_ context.Context, now time.Time) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var ids []string
	for id, marker := range m.markers {
		if marker.IsInstant() && marker.ExpiredAt(now) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}
