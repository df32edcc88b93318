// Package rules stores retention rules and keeps the enabled auto rules
// cached for the engine.
package rules

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/liamcoop/retention/retention"
)

var (
	// ErrNotFound is returned when a rule does not exist.
	ErrNotFound = errors.New("rule not found")
	// ErrExists is returned when adding a rule whose id is taken.
	ErrExists = errors.New("rule already exists")
)

// RuleStore manages rule persistence and retrieval.
type RuleStore interface {
	Add(ctx context.Context, rule *retention.Rule) error
	Get(ctx context.Context, id string) (*retention.Rule, error)
	// List returns every rule ordered by creation time.
	List(ctx context.Context) ([]*retention.Rule, error)
	// ListEnabled returns the enabled rules ordered by creation time.
	ListEnabled(ctx context.Context) ([]*retention.Rule, error)
	Update(ctx context.Context, rule *retention.Rule) error
	Delete(ctx context.Context, id string) error
}

// InMemoryRuleStore implements RuleStore using an in-memory map.
// Rules are copied on the way in and out.
type InMemoryRuleStore struct {
	rules map[string]*retention.Rule
	mu    sync.RWMutex
	now   func() time.Time
}

// NewInMemoryRuleStore creates an empty in-memory rule store.
func NewInMemoryRuleStore() *InMemoryRuleStore {
	return &InMemoryRuleStore{
		rules: make(map[string]*retention.Rule),
		now:   time.Now,
	}
}

// Add stores a new rule and sets its timestamps.
func (s *InMemoryRuleStore) Add(_ context.Context, rule *retention.Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.rules[rule.ID]; exists {
		return fmt.Errorf("%w: %s", ErrExists, rule.ID)
	}

	now := s.now()
	rule.CreatedAt = now
	rule.UpdatedAt = now
	s.rules[rule.ID] = rule.Clone()
	return nil
}

// Get retrieves a rule by ID.
func (s *InMemoryRuleStore) Get(_ context.Context, id string) (*retention.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rule, exists := s.rules[id]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return rule.Clone(), nil
}

// List returns all rules.
func (s *InMemoryRuleStore) List(_ context.Context) ([]*retention.Rule, error) {
	return s.filter(func(*retention.Rule) bool { return true }), nil
}

// ListEnabled returns the enabled rules.
func (s *InMemoryRuleStore) ListEnabled(_ context.Context) ([]*retention.Rule, error) {
	return s.filter((*retention.Rule).IsEnabled), nil
}

func (s *InMemoryRuleStore) filter(keep func(*retention.Rule) bool) []*retention.Rule {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*retention.Rule, 0, len(s.rules))
	for _, rule := range s.rules {
		if keep(rule) {
			out = append(out, rule.Clone())
		}
	}
	sortByCreation(out)
	return out
}

// Update replaces an existing rule, preserving CreatedAt.
func (s *InMemoryRuleStore) Update(_ context.Context, rule *retention.Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.rules[rule.ID]
	if !exists {
		return fmt.Errorf("%w: %s", ErrNotFound, rule.ID)
	}

	rule.CreatedAt = existing.CreatedAt
	rule.UpdatedAt = s.now()
	s.rules[rule.ID] = rule.Clone()
	return nil
}

// Delete removes a rule.
func (s *InMemoryRuleStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.rules[id]; !exists {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(s.rules, id)
	return nil
}

func sortByCreation(rules []*retention.Rule) {
	sort.SliceStable(rules, func(i, j int) bool {
		if !rules[i].CreatedAt.Equal(rules[j].CreatedAt) {
			return rules[i].CreatedAt.Before(rules[j].CreatedAt)
		}
		return rules[i].ID < rules[j].ID
	})
}
