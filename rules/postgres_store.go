package rules

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/liamcoop/retention/retention"
)

// PostgresRuleStore implements RuleStore backed by the retention_rules table.
type PostgresRuleStore struct {
	db *sql.DB
}

// NewPostgresRuleStore creates a PostgreSQL-backed RuleStore.
func NewPostgresRuleStore(db *sql.DB) *PostgresRuleStore {
	return &PostgresRuleStore{db: db}
}

const selectRule = `
	SELECT id, name, application_policy, starting_point_policy, starting_point_event,
	       starting_point_expression, expression, duration_years, duration_months,
	       duration_days, duration_millis, begin_actions, end_actions,
	       accepted_doc_types, enabled, created_at, updated_at
	FROM retention_rules
`

type scanner interface {
	Scan(dest ...any) error
}

func scanRule(row scanner) (*retention.Rule, error) {
	var (
		r      retention.Rule
		policy string
		start  string
	)
	err := row.Scan(
		&r.ID, &r.Name, &policy, &start, &r.StartingPointEvent,
		&r.StartingPointExpression, &r.Expression,
		&r.Duration.Years, &r.Duration.Months, &r.Duration.Days, &r.Duration.Millis,
		pq.Array(&r.BeginActions), pq.Array(&r.EndActions), pq.Array(&r.AcceptedDocTypes),
		&r.Enabled, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	r.ApplicationPolicy = retention.ApplicationPolicy(policy)
	r.StartingPointPolicy = retention.StartingPointPolicy(start)
	return &r, nil
}

// Add inserts a new rule.
func (s *PostgresRuleStore) Add(ctx context.Context, rule *retention.Rule) error {
	now := time.Now().UTC()
	rule.CreatedAt = now
	rule.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO retention_rules (
			id, name, application_policy, starting_point_policy, starting_point_event,
			starting_point_expression, expression, duration_years, duration_months,
			duration_days, duration_millis, begin_actions, end_actions,
			accepted_doc_types, enabled, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`, rule.ID, rule.Name, string(rule.ApplicationPolicy), string(rule.StartingPointPolicy),
		rule.StartingPointEvent, rule.StartingPointExpression, rule.Expression,
		rule.Duration.Years, rule.Duration.Months, rule.Duration.Days, rule.Duration.Millis,
		pq.Array(rule.BeginActions), pq.Array(rule.EndActions), pq.Array(rule.AcceptedDocTypes),
		rule.Enabled, rule.CreatedAt, rule.UpdatedAt)

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return fmt.Errorf("%w: %s", ErrExists, rule.ID)
	}
	if err != nil {
		return fmt.Errorf("failed to insert rule: %w", err)
	}
	return nil
}

// Get retrieves a rule by ID.
func (s *PostgresRuleStore) Get(ctx context.Context, id string) (*retention.Rule, error) {
	rule, err := scanRule(s.db.QueryRowContext(ctx, selectRule+` WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get rule: %w", err)
	}
	return rule, nil
}

// List returns all rules ordered by creation time.
func (s *PostgresRuleStore) List(ctx context.Context) ([]*retention.Rule, error) {
	return s.query(ctx, selectRule+` ORDER BY created_at ASC, id ASC`)
}

// ListEnabled returns the enabled rules ordered by creation time.
func (s *PostgresRuleStore) ListEnabled(ctx context.Context) ([]*retention.Rule, error) {
	return s.query(ctx, selectRule+` WHERE enabled = true ORDER BY created_at ASC, id ASC`)
}

func (s *PostgresRuleStore) query(ctx context.Context, query string, args ...any) ([]*retention.Rule, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	defer rows.Close()

	var out []*retention.Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		out = append(out, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rules: %w", err)
	}
	return out, nil
}

// Update modifies an existing rule, preserving created_at.
func (s *PostgresRuleStore) Update(ctx context.Context, rule *retention.Rule) error {
	rule.UpdatedAt = time.Now().UTC()

	var createdAt time.Time
	err := s.db.QueryRowContext(ctx, `
		UPDATE retention_rules
		SET name = $1, application_policy = $2, starting_point_policy = $3,
		    starting_point_event = $4, starting_point_expression = $5, expression = $6,
		    duration_years = $7, duration_months = $8, duration_days = $9, duration_millis = $10,
		    begin_actions = $11, end_actions = $12, accepted_doc_types = $13,
		    enabled = $14, updated_at = $15
		WHERE id = $16
		RETURNING created_at
	`, rule.Name, string(rule.ApplicationPolicy), string(rule.StartingPointPolicy),
		rule.StartingPointEvent, rule.StartingPointExpression, rule.Expression,
		rule.Duration.Years, rule.Duration.Months, rule.Duration.Days, rule.Duration.Millis,
		pq.Array(rule.BeginActions), pq.Array(rule.EndActions), pq.Array(rule.AcceptedDocTypes),
		rule.Enabled, rule.UpdatedAt, rule.ID).Scan(&createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrNotFound, rule.ID)
	}
	if err != nil {
		return fmt.Errorf("failed to update rule: %w", err)
	}
	rule.CreatedAt = createdAt
	return nil
}

// Delete removes a rule.
func (s *PostgresRuleStore) Delete(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM retention_rules WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete rule: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}
