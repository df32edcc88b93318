package actions

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/liamcoop/retention/repository"
)

// Built-in operation ids.
const (
	OpLock   = "Document.Lock"
	OpUnlock = "Document.Unlock"
	OpDelete = "Document.Delete"
	OpTrash  = "Document.Trash"
)

// ErrUnknownOperation is returned when running an unregistered operation.
var ErrUnknownOperation = errors.New("unknown operation")

// Session identifies who triggered the work.
type Session struct {
	Principal string
	Roles     []string
}

// OperationContext is the scope an operation runs in. Commit is always false:
// the caller owns persistence boundaries.
type OperationContext struct {
	Document *repository.Document
	Session  Session
	Commit   bool
}

// Runtime runs named operations.
type Runtime interface {
	Run(ctx context.Context, operationID string, oc *OperationContext) error
}

// Operation is a named side effect on a document.
type Operation func(ctx context.Context, repo repository.Repository, oc *OperationContext) error

// Registry is the default Runtime: a set of operations bound to a repository.
type Registry struct {
	repo repository.Repository
	ops  map[string]Operation
	mu   sync.RWMutex
}

// NewRegistry creates a registry with the lock, unlock, delete and trash operations.
func NewRegistry(repo repository.Repository) *Registry {
	r := &Registry{repo: repo, ops: make(map[string]Operation)}
	r.Register(OpLock, func(ctx context.Context, repo repository.Repository, oc *OperationContext) error {
		_, err := repo.SetLocked(ctx, oc.Document.ID, true)
		return err
	})
	r.Register(OpUnlock, func(ctx context.Context, repo repository.Repository, oc *OperationContext) error {
		_, err := repo.SetLocked(ctx, oc.Document.ID, false)
		return err
	})
	r.Register(OpDelete, func(ctx context.Context, repo repository.Repository, oc *OperationContext) error {
		return repo.Delete(ctx, oc.Document.ID)
	})
	r.Register(OpTrash, func(ctx context.Context, repo repository.Repository, oc *OperationContext) error {
		_, err := repo.Trash(ctx, oc.Document.ID)
		return err
	})
	return r
}

// Register adds or replaces an operation.
func (r *Registry) Register(id string, op Operation) {
	r.mu.Lock()
	r.ops[id] = op
	r.mu.Unlock()
}

// Has reports whether id is registered.
func (r *Registry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.ops[id]
	return ok
}

// IDs returns the registered operation ids, sorted.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.ops))
	for id := range r.ops {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Run executes the operation identified by operationID.
func (r *Registry) Run(ctx context.Context, operationID string, oc *OperationContext) error {
	r.mu.RLock()
	op, ok := r.ops[operationID]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownOperation, operationID)
	}
	if oc == nil || oc.Document == nil {
		return fmt.Errorf("operation %s: no document bound", operationID)
	}
	return op(ctx, r.repo, oc)
}
