// Package actions runs the begin and end actions of retention records.
package actions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/liamcoop/retention/internal/logger"
	"github.com/liamcoop/retention/repository"
)

// ActionError reports the operation that aborted an action sequence.
// Operations applied before it are not undone.
type ActionError struct {
	Operation  string
	DocumentID string
	Err        error
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("error running operation %s on %s: %v", e.Operation, e.DocumentID, e.Err)
}

func (e *ActionError) Unwrap() error { return e.Err }

// Executor runs ordered operation lists against a document.
type Executor struct {
	repo    repository.Repository
	runtime Runtime
	log     *slog.Logger
}

// NewExecutor creates an executor. A nil runtime uses NewRegistry(repo).
func NewExecutor(repo repository.Repository, runtime Runtime) *Executor {
	if runtime == nil {
		runtime = NewRegistry(repo)
	}
	return &Executor{repo: repo, runtime: runtime, log: logger.For("actions")}
}

// Execute runs ops in order and returns the refreshed document, or nil when
// an operation removed it.
//
// Lock is skipped on a locked document and unlock on an unlocked one. Delete
// and trash unlock a locked document first. The first failing operation
// aborts the sequence with an *ActionError.
func (x *Executor) Execute(ctx context.Context, doc *repository.Document, ops []string, session Session) (*repository.Document, error) {
	if len(ops) == 0 {
		return doc, nil
	}
	id := doc.ID

	for _, op := range ops {
		if doc == nil {
			return nil, &ActionError{Operation: op, DocumentID: id, Err: repository.ErrNotFound}
		}
		x.log.Debug("executing action", "operation", op, "document", id, "path", doc.Path)

		switch op {
		case OpLock:
			if doc.Locked {
				continue
			}
		case OpUnlock:
			if !doc.Locked {
				continue
			}
		case OpDelete, OpTrash:
			if doc.Locked {
				unlocked, err := x.repo.SetLocked(ctx, id, false)
				if err != nil {
					return doc, &ActionError{Operation: op, DocumentID: id, Err: fmt.Errorf("failed to remove lock: %w", err)}
				}
				doc = unlocked
			}
		}

		oc := &OperationContext{Document: doc, Session: session, Commit: false}
		if err := x.runtime.Run(ctx, op, oc); err != nil {
			return doc, &ActionError{Operation: op, DocumentID: id, Err: err}
		}

		refreshed, err := x.repo.Get(ctx, id)
		switch {
		case errors.Is(err, repository.ErrNotFound):
			doc = nil
		case err != nil:
			return nil, fmt.Errorf("failed to refresh document %s: %w", id, err)
		default:
			doc = refreshed
		}
	}
	return doc, nil
}
