package rules

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/liamcoop/retention/internal/logger"
	"github.com/liamcoop/retention/retention"
)

// Manager validates rule mutations, writes them to a RuleStore and keeps the
// auto rule cache coherent.
type Manager struct {
	store     RuleStore
	cache     RulesCache
	validator Validator
	log       *slog.Logger
}

// NewManager creates a manager over store.
func NewManager(store RuleStore, validator Validator) *Manager {
	return &Manager{
		store:     store,
		cache:     NewInMemoryRulesCache(DefaultCacheConfig()),
		validator: validator,
		log:       logger.For("rules"),
	}
}

// Store returns the underlying store.
func (m *Manager) Store() RuleStore { return m.store }

// Create validates and stores a new rule. An empty ID is replaced by a UUID
// and an empty starting-point policy by immediate.
func (m *Manager) Create(ctx context.Context, rule *retention.Rule) error {
	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}
	if rule.StartingPointPolicy == "" {
		rule.StartingPointPolicy = retention.StartImmediate
	}
	if err := m.validator.Validate(rule); err != nil {
		return err
	}
	if err := m.store.Add(ctx, rule); err != nil {
		return err
	}

	m.cache.Invalidate()
	m.log.Info("rule created", "rule", rule.ID, "name", rule.Name, "policy", rule.ApplicationPolicy)
	return nil
}

// Update validates and replaces an existing rule.
func (m *Manager) Update(ctx context.Context, rule *retention.Rule) error {
	if rule.StartingPointPolicy == "" {
		rule.StartingPointPolicy = retention.StartImmediate
	}
	if err := m.validator.Validate(rule); err != nil {
		return err
	}
	if err := m.store.Update(ctx, rule); err != nil {
		return err
	}

	m.cache.Invalidate()
	m.log.Info("rule updated", "rule", rule.ID)
	return nil
}

// SetEnabled enables or disables a rule.
func (m *Manager) SetEnabled(ctx context.Context, id string, enabled bool) (*retention.Rule, error) {
	rule, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if enabled {
		rule.Enable()
	} else {
		rule.Disable()
	}
	if err := m.store.Update(ctx, rule); err != nil {
		return nil, err
	}

	m.cache.Invalidate()
	m.log.Info("rule enabled state changed", "rule", id, "enabled", enabled)
	return rule, nil
}

// Delete removes a rule. Records already attached keep their copied settings.
func (m *Manager) Delete(ctx context.Context, id string) error {
	if err := m.store.Delete(ctx, id); err != nil {
		return err
	}
	m.cache.Invalidate()
	m.log.Info("rule deleted", "rule", id)
	return nil
}

// Get returns a rule by ID.
func (m *Manager) Get(ctx context.Context, id string) (*retention.Rule, error) {
	return m.store.Get(ctx, id)
}

// List returns every rule.
func (m *Manager) List(ctx context.Context) ([]*retention.Rule, error) {
	return m.store.List(ctx)
}

// AutoRules returns the enabled auto rules in creation order, from the cache
// when possible.
func (m *Manager) AutoRules(ctx context.Context) ([]*retention.Rule, error) {
	if cached := m.cache.Get(); cached != nil {
		return cached, nil
	}

	gen := m.cache.Generation()
	enabled, err := m.store.ListEnabled(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load auto rules: %w", err)
	}
	auto := make([]*retention.Rule, 0, len(enabled))
	for _, r := range enabled {
		if r.IsAuto() {
			auto = append(auto, r)
		}
	}
	if !m.cache.Set(gen, auto) {
		m.log.Debug("discarded auto rules loaded before invalidation")
	}
	return auto, nil
}

// Invalidate drops the cached auto rules.
func (m *Manager) Invalidate() { m.cache.Invalidate() }
