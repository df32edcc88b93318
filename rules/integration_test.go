//go:build integration

package rules_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/liamcoop/retention/internal/pgtest"
	"github.com/liamcoop/retention/retention"
	"github.com/liamcoop/retention/rules"
)

func contractRule(id string) *retention.Rule {
	return &retention.Rule{
		ID:                id,
		Name:              "Contracts",
		ApplicationPolicy: retention.PolicyAuto,
		RetentionFields: retention.RetentionFields{
			Duration:                retention.Duration{Years: 10, Days: 3},
			StartingPointPolicy:     retention.StartEventBased,
			StartingPointEvent:      "documentMoved",
			StartingPointExpression: `document.path.startsWith("/archive")`,
			Expression:              `document.type == "Contract"`,
			BeginActions:            []string{"Document.Lock"},
			EndActions:              []string{"Document.Unlock", "Document.Trash"},
		},
		Enabled:          true,
		AcceptedDocTypes: []string{"Contract"},
	}
}

func TestPostgresRuleStore_BasicCRUD(t *testing.T) {
	db, _ := pgtest.Start(t)
	ctx := context.Background()
	store := rules.NewPostgresRuleStore(db)

	rule := contractRule("contracts")
	if err := store.Add(ctx, rule); err != nil {
		t.Fatalf("Failed to add rule: %v", err)
	}
	if err := store.Add(ctx, contractRule("contracts")); !errors.Is(err, rules.ErrExists) {
		t.Errorf("Expected ErrExists for duplicate id, got %v", err)
	}

	got, err := store.Get(ctx, "contracts")
	if err != nil {
		t.Fatalf("Failed to get rule: %v", err)
	}
	if got.Duration != rule.Duration {
		t.Errorf("Expected duration %+v, got %+v", rule.Duration, got.Duration)
	}
	if got.StartingPointPolicy != retention.StartEventBased || got.ApplicationPolicy != retention.PolicyAuto {
		t.Errorf("Policies not round-tripped: %s %s", got.ApplicationPolicy, got.StartingPointPolicy)
	}
	if len(got.EndActions) != 2 || got.EndActions[1] != "Document.Trash" {
		t.Errorf("Expected end actions to keep their order, got %v", got.EndActions)
	}

	rule.Name = "Contracts (updated)"
	rule.Enabled = false
	if err := store.Update(ctx, rule); err != nil {
		t.Fatalf("Failed to update rule: %v", err)
	}
	enabled, err := store.ListEnabled(ctx)
	if err != nil {
		t.Fatalf("Failed to list enabled rules: %v", err)
	}
	if len(enabled) != 0 {
		t.Errorf("Expected 0 enabled rules, got %d", len(enabled))
	}

	if err := store.Delete(ctx, "contracts"); err != nil {
		t.Fatalf("Failed to delete rule: %v", err)
	}
	if _, err := store.Get(ctx, "contracts"); !errors.Is(err, rules.ErrNotFound) {
		t.Errorf("Expected ErrNotFound after delete, got %v", err)
	}
	if err := store.Delete(ctx, "contracts"); !errors.Is(err, rules.ErrNotFound) {
		t.Errorf("Expected ErrNotFound deleting twice, got %v", err)
	}
}

func TestPostgresRuleStore_ListOrder(t *testing.T) {
	db, _ := pgtest.Start(t)
	ctx := context.Background()
	store := rules.NewPostgresRuleStore(db)

	for _, id := range []string{"c", "a", "b"} {
		if err := store.Add(ctx, contractRule(id)); err != nil {
			t.Fatalf("Failed to add rule %s: %v", id, err)
		}
		time.Sleep(5 * time.Millisecond)
	}

	list, err := store.List(ctx)
	if err != nil {
		t.Fatalf("Failed to list rules: %v", err)
	}
	var ids []string
	for _, r := range list {
		ids = append(ids, r.ID)
	}
	if len(ids) != 3 || ids[0] != "c" || ids[1] != "a" || ids[2] != "b" {
		t.Errorf("Expected creation order [c a b], got %v", ids)
	}
}

func TestManagerAutoRulesFromPostgres(t *testing.T) {
	db, _ := pgtest.Start(t)
	ctx := context.Background()
	manager := rules.NewManager(rules.NewPostgresRuleStore(db), rules.Validator{})

	if err := manager.Create(ctx, contractRule("")); err != nil {
		t.Fatalf("Failed to create rule: %v", err)
	}
	manual := contractRule("")
	manual.ApplicationPolicy = retention.PolicyManual
	if err := manager.Create(ctx, manual); err != nil {
		t.Fatalf("Failed to create rule: %v", err)
	}

	auto, err := manager.AutoRules(ctx)
	if err != nil {
		t.Fatalf("Failed to load auto rules: %v", err)
	}
	if len(auto) != 1 || !auto[0].IsAuto() {
		t.Fatalf("Expected one auto rule, got %d", len(auto))
	}

	if _, err := manager.SetEnabled(ctx, auto[0].ID, false); err != nil {
		t.Fatalf("Failed to disable rule: %v", err)
	}
	auto, err = manager.AutoRules(ctx)
	if err != nil {
		t.Fatalf("Failed to load auto rules: %v", err)
	}
	if len(auto) != 0 {
		t.Errorf("Expected no auto rules after disabling, got %d", len(auto))
	}
}
