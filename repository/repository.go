package repository

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/liamcoop/retention/events"
)

var (
	// ErrNotFound is returned when a document does not exist.
	ErrNotFound = errors.New("document not found")
	// ErrLockState is returned when locking a locked document or unlocking an unlocked one.
	ErrLockState = errors.New("document lock state unchanged")
	// ErrUnderRetention is returned when deleting a document still under retention.
	ErrUnderRetention = errors.New("document is under retention")
)

// WriteMode selects the side effects of a save.
type WriteMode int

const (
	// WriteNormal bumps the version, touches the modification time and
	// emits a plain notification.
	WriteNormal WriteMode = iota
	// WriteRetention is used for the engine's own writes: no versioning, no
	// modification time, and the notification carries events.IgnoreProperty.
	WriteRetention
)

// Repository is the object store consumed by the retention engine.
type Repository interface {
	Get(ctx context.Context, id string) (*Document, error)
	Create(ctx context.Context, doc *Document) (*Document, error)
	Save(ctx context.Context, doc *Document, mode WriteMode) (*Document, error)
	Move(ctx context.Context, id, parentPath string) (*Document, error)
	SetLocked(ctx context.Context, id string, locked bool) (*Document, error)
	Trash(ctx context.Context, id string) (*Document, error)
	Delete(ctx context.Context, id string) error

	RetentionMarker(ctx context.Context, id string) (Marker, error)
	SetRetentionMarker(ctx context.Context, id string, m Marker) error
	IsUnderRetention(ctx context.Context, id string) (bool, error)
	// FindExpired returns the ids of objects whose concrete marker is at or before now.
	FindExpired(ctx context.Context, now time.Time) ([]string, error)
}

// Notifier receives the notifications emitted by repository writes, with the
// context of the write that produced them.
type Notifier func(ctx context.Context, n events.Notification)

// notifiers is embedded by implementations to fan out notifications.
type notifiers struct {
	mu  sync.RWMutex
	fns []Notifier
}

// OnNotify registers fn to receive every emitted notification.
func (n *notifiers) OnNotify(fn Notifier) {
	n.mu.Lock()
	n.fns = append(n.fns, fn)
	n.mu.Unlock()
}

func (n *notifiers) emit(ctx context.Context, name, id string, mode WriteMode) {
	n.mu.RLock()
	fns := n.fns
	n.mu.RUnlock()
	if len(fns) == 0 {
		return
	}

	note := events.Notification{Name: name, ObjectID: id}
	if mode == WriteRetention {
		note.Properties = map[string]any{events.IgnoreProperty: true}
	}
	for _, fn := range fns {
		fn(ctx, note)
	}
}
