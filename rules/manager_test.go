package rules

import (
	"context"
	"errors"
	"testing"

	"github.com/liamcoop/retention/retention"
)

// countingStore counts ListEnabled calls to observe cache hits.
type countingStore struct {
	*InMemoryRuleStore
	listEnabled int
}

func (s *countingStore) ListEnabled(ctx context.Context) ([]*retention.Rule, error) {
	s.listEnabled++
	return s.InMemoryRuleStore.ListEnabled(ctx)
}

func newManager() (*Manager, *countingStore) {
	store := &countingStore{InMemoryRuleStore: NewInMemoryRuleStore()}
	return NewManager(store, Validator{}), store
}

// TestManagerCreateAssignsID verifies a UUID and default policy are assigned
func TestManagerCreateAssignsID(t *testing.T) {
	m, _ := newManager()
	rule := &retention.Rule{Name: "Keep", ApplicationPolicy: retention.PolicyManual}

	if err := m.Create(context.Background(), rule); err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
	if len(rule.ID) != 36 {
		t.Errorf("ID = %q, want a UUID", rule.ID)
	}
	if rule.StartingPointPolicy != retention.StartImmediate {
		t.Errorf("StartingPointPolicy = %q, want immediate", rule.StartingPointPolicy)
	}
}

// TestManagerCreateInvalid verifies invalid rules never reach the store
func TestManagerCreateInvalid(t *testing.T) {
	m, store := newManager()
	rule := &retention.Rule{ID: "r1", Name: "", ApplicationPolicy: retention.PolicyManual}

	if err := m.Create(context.Background(), rule); !errors.Is(err, ErrInvalidRule) {
		t.Fatalf("Create() error = %v, want ErrInvalidRule", err)
	}
	if all, _ := store.List(context.Background()); len(all) != 0 {
		t.Errorf("store holds %d rules, want 0", len(all))
	}
}

// TestManagerAutoRulesCache verifies auto rules are cached and refreshed after mutations
func TestManagerAutoRulesCache(t *testing.T) {
	ctx := context.Background()
	m, store := newManager()

	auto := &retention.Rule{ID: "auto", Name: "Auto", ApplicationPolicy: retention.PolicyAuto, Enabled: true}
	manual := &retention.Rule{ID: "manual", Name: "Manual", ApplicationPolicy: retention.PolicyManual, Enabled: true}
	for _, r := range []*retention.Rule{auto, manual} {
		if err := m.Create(ctx, r); err != nil {
			t.Fatalf("Create(%s) failed: %v", r.ID, err)
		}
	}

	for i := 0; i < 3; i++ {
		got, err := m.AutoRules(ctx)
		if err != nil {
			t.Fatalf("AutoRules() failed: %v", err)
		}
		if len(got) != 1 || got[0].ID != "auto" {
			t.Fatalf("AutoRules() = %v, want [auto]", ids(got))
		}
	}
	if store.listEnabled != 1 {
		t.Errorf("store queried %d times, want 1", store.listEnabled)
	}

	if _, err := m.SetEnabled(ctx, "auto", false); err != nil {
		t.Fatalf("SetEnabled() failed: %v", err)
	}
	got, _ := m.AutoRules(ctx)
	if len(got) != 0 {
		t.Errorf("AutoRules() after disable = %v, want empty", ids(got))
	}
	if store.listEnabled != 2 {
		t.Errorf("store queried %d times, want 2", store.listEnabled)
	}
}

// gatedStore blocks the first ListEnabled until release is closed.
type gatedStore struct {
	*InMemoryRuleStore
	listing chan struct{}
	release chan struct{}
	once    bool
}

func (s *gatedStore) ListEnabled(ctx context.Context) ([]*retention.Rule, error) {
	rules, err := s.InMemoryRuleStore.ListEnabled(ctx)
	if !s.once {
		s.once = true
		close(s.listing)
		<-s.release
	}
	return rules, err
}

// TestManagerAutoRulesStaleLoad verifies a load racing a mutation does not cache the old list
func TestManagerAutoRulesStaleLoad(t *testing.T) {
	ctx := context.Background()
	store := &gatedStore{
		InMemoryRuleStore: NewInMemoryRuleStore(),
		listing:           make(chan struct{}),
		release:           make(chan struct{}),
	}
	m := NewManager(store, Validator{})

	done := make(chan []*retention.Rule)
	go func() {
		got, _ := m.AutoRules(ctx)
		done <- got
	}()
	<-store.listing

	rule := &retention.Rule{ID: "auto", Name: "Auto", ApplicationPolicy: retention.PolicyAuto, Enabled: true}
	if err := m.Create(ctx, rule); err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
	close(store.release)
	if got := <-done; len(got) != 0 {
		t.Fatalf("racing AutoRules() = %v, want empty", ids(got))
	}

	got, err := m.AutoRules(ctx)
	if err != nil {
		t.Fatalf("AutoRules() failed: %v", err)
	}
	if len(got) != 1 || got[0].ID != "auto" {
		t.Errorf("AutoRules() after create = %v, want [auto]", ids(got))
	}
}

func TestManagerDelete(t *testing.T) {
	ctx := context.Background()
	m, _ := newManager()
	_ = m.Create(ctx, &retention.Rule{ID: "r1", Name: "R1", ApplicationPolicy: retention.PolicyAuto, Enabled: true})
	_, _ = m.AutoRules(ctx)

	if err := m.Delete(ctx, "r1"); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}
	if got, _ := m.AutoRules(ctx); len(got) != 0 {
		t.Errorf("AutoRules() after delete = %v", ids(got))
	}
	if _, err := m.Get(ctx, "r1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}
}
