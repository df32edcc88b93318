package actions

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/liamcoop/retention/events"
	"github.com/liamcoop/retention/repository"
)

// countingRuntime records every operation that reaches the runtime.
type countingRuntime struct {
	next  Runtime
	calls []string
	fail  map[string]error
}

func (c *countingRuntime) Run(ctx context.Context, op string, oc *OperationContext) error {
	c.calls = append(c.calls, op)
	if oc.Commit {
		return errors.New("operations must not commit")
	}
	if err := c.fail[op]; err != nil {
		return err
	}
	return c.next.Run(ctx, op, oc)
}

func setup(t *testing.T, locked bool) (*repository.Memory, *repository.Document, *countingRuntime, *Executor) {
	t.Helper()
	ctx := context.Background()
	repo := repository.NewMemory()

	doc, err := repo.Create(ctx, &repository.Document{Type: "File", Name: "contract.pdf"})
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
	if locked {
		if doc, err = repo.SetLocked(ctx, doc.ID, true); err != nil {
			t.Fatalf("SetLocked() failed: %v", err)
		}
	}

	rt := &countingRuntime{next: NewRegistry(repo), fail: map[string]error{}}
	return repo, doc, rt, NewExecutor(repo, rt)
}

func countEvents(repo *repository.Memory, name string) *int {
	n := new(int)
	repo.OnNotify(func(_ context.Context, note events.Notification) {
		if note.Name == name {
			*n++
		}
	})
	return n
}

// TestExecuteLockTwice verifies a repeated lock runs once
func TestExecuteLockTwice(t *testing.T) {
	repo, doc, rt, x := setup(t, false)
	locks := countEvents(repo, events.DocumentLocked)

	got, err := x.Execute(context.Background(), doc, []string{OpLock, OpLock}, Session{Principal: "system"})
	if err != nil {
		t.Fatalf("Execute() failed: %v", err)
	}
	if !got.Locked {
		t.Error("document should be locked")
	}
	if len(rt.calls) != 1 {
		t.Errorf("runtime calls = %v, want one lock", rt.calls)
	}
	if *locks != 1 {
		t.Errorf("lock notifications = %d, want 1", *locks)
	}
}

// TestExecuteLockPreLocked verifies lock is skipped on a locked document
func TestExecuteLockPreLocked(t *testing.T) {
	_, doc, rt, x := setup(t, true)

	got, err := x.Execute(context.Background(), doc, []string{OpLock}, Session{})
	if err != nil {
		t.Fatalf("Execute() failed: %v", err)
	}
	if !got.Locked {
		t.Error("document should stay locked")
	}
	if len(rt.calls) != 0 {
		t.Errorf("runtime calls = %v, want none", rt.calls)
	}
}

// TestExecuteUnlock verifies unlock runs once and is skipped when unlocked
func TestExecuteUnlock(t *testing.T) {
	_, doc, rt, x := setup(t, true)

	got, err := x.Execute(context.Background(), doc, []string{OpUnlock, OpUnlock}, Session{})
	if err != nil {
		t.Fatalf("Execute() failed: %v", err)
	}
	if got.Locked {
		t.Error("document should be unlocked")
	}
	if len(rt.calls) != 1 {
		t.Errorf("runtime calls = %v, want one unlock", rt.calls)
	}
}

// TestExecuteDeleteLocked verifies delete removes the lock first
func TestExecuteDeleteLocked(t *testing.T) {
	repo, doc, rt, x := setup(t, true)
	unlocks := countEvents(repo, events.DocumentUnlocked)

	got, err := x.Execute(context.Background(), doc, []string{OpDelete}, Session{})
	if err != nil {
		t.Fatalf("Execute() failed: %v", err)
	}
	if got != nil {
		t.Errorf("Execute() returned %+v, want nil for a deleted document", got)
	}
	if _, err := repo.Get(context.Background(), doc.ID); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}
	if *unlocks != 1 {
		t.Errorf("unlock notifications = %d, want 1", *unlocks)
	}
	if len(rt.calls) != 1 || rt.calls[0] != OpDelete {
		t.Errorf("runtime calls = %v, want only delete", rt.calls)
	}
}

// TestExecuteTrashLocked verifies trash sees the unlocked state
func TestExecuteTrashLocked(t *testing.T) {
	_, doc, _, x := setup(t, true)

	got, err := x.Execute(context.Background(), doc, []string{OpTrash}, Session{})
	if err != nil {
		t.Fatalf("Execute() failed: %v", err)
	}
	if got.Locked || !got.Trashed {
		t.Errorf("document locked=%t trashed=%t, want unlocked and trashed", got.Locked, got.Trashed)
	}
}

// TestExecuteFailureAborts verifies the first failure stops the sequence without undoing earlier work
func TestExecuteFailureAborts(t *testing.T) {
	_, doc, rt, x := setup(t, false)
	boom := errors.New("boom")
	rt.fail[OpUnlock] = boom

	got, err := x.Execute(context.Background(), doc, []string{OpLock, OpUnlock, OpTrash}, Session{})
	if err == nil {
		t.Fatal("Execute() should fail")
	}

	var ae *ActionError
	if !errors.As(err, &ae) {
		t.Fatalf("error = %T, want *ActionError", err)
	}
	if ae.Operation != OpUnlock || ae.DocumentID != doc.ID {
		t.Errorf("ActionError = %+v", ae)
	}
	if !errors.Is(err, boom) {
		t.Error("ActionError should wrap the runtime error")
	}
	if len(rt.calls) != 2 {
		t.Errorf("runtime calls = %v, want lock and unlock only", rt.calls)
	}
	if got == nil || !got.Locked {
		t.Error("lock applied before the failure should remain")
	}
}

// TestExecuteUnknownOperation verifies unregistered ids fail as action errors
func TestExecuteUnknownOperation(t *testing.T) {
	_, doc, _, x := setup(t, false)

	_, err := x.Execute(context.Background(), doc, []string{"Document.Shred"}, Session{})
	if !errors.Is(err, ErrUnknownOperation) {
		t.Errorf("error = %v, want ErrUnknownOperation", err)
	}
}

// TestExecuteAfterDelete verifies operations after a delete fail cleanly
func TestExecuteAfterDelete(t *testing.T) {
	_, doc, _, x := setup(t, false)

	_, err := x.Execute(context.Background(), doc, []string{OpDelete, OpLock}, Session{})
	var ae *ActionError
	if !errors.As(err, &ae) || ae.Operation != OpLock {
		t.Fatalf("error = %v, want ActionError on lock", err)
	}
	if !errors.Is(err, repository.ErrNotFound) {
		t.Error("error should wrap ErrNotFound")
	}
}

// TestExecuteDeleteUnderRetention verifies the repository guard surfaces as an action error
func TestExecuteDeleteUnderRetention(t *testing.T) {
	repo, doc, _, x := setup(t, false)
	ctx := context.Background()
	if err := repo.SetRetentionMarker(ctx, doc.ID, repository.MarkerUntil(time.Now().Add(time.Hour))); err != nil {
		t.Fatalf("SetRetentionMarker() failed: %v", err)
	}

	_, err := x.Execute(ctx, doc, []string{OpDelete}, Session{})
	if !errors.Is(err, repository.ErrUnderRetention) {
		t.Errorf("error = %v, want ErrUnderRetention", err)
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry(repository.NewMemory())
	for _, id := range []string{OpLock, OpUnlock, OpDelete, OpTrash} {
		if !r.Has(id) {
			t.Errorf("built-in %s missing", id)
		}
	}

	r.Register("Document.Stamp", func(ctx context.Context, repo repository.Repository, oc *OperationContext) error {
		return nil
	})
	if ids := r.IDs(); len(ids) != 5 {
		t.Errorf("IDs() = %v, want 5 entries", ids)
	}
	if err := r.Run(context.Background(), "Document.Stamp", &OperationContext{}); err == nil {
		t.Error("Run() without a document should fail")
	}
}
