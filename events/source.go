package events

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/lib/pq"
)

// Source lists the event names the retention engine is allowed to react to.
type Source interface {
	ListNonObsoleteEventNames(ctx context.Context) ([]string, error)
}

// Definition is one entry of the events directory.
type Definition struct {
	ID       string `yaml:"id" json:"id"`
	Label    string `yaml:"label,omitempty" json:"label,omitempty"`
	Obsolete bool   `yaml:"obsolete,omitempty" json:"obsolete,omitempty"`
}

// StaticSource serves event definitions held in memory, typically loaded
// from the configuration file. Definitions can be replaced on reload.
type StaticSource struct {
	mu   sync.RWMutex
	defs []Definition
}

// NewStaticSource creates a source from the given definitions.
func NewStaticSource(defs []Definition) *StaticSource {
	s := &StaticSource{}
	s.Replace(defs)
	return s
}

// Replace swaps the definitions. Callers must invalidate any cache built on top.
func (s *StaticSource) Replace(defs []Definition) {
	cp := make([]Definition, len(defs))
	copy(cp, defs)

	s.mu.Lock()
	s.defs = cp
	s.mu.Unlock()
}

// ListNonObsoleteEventNames returns the ids of definitions not marked obsolete.
func (s *StaticSource) ListNonObsoleteEventNames(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.defs))
	for _, d := range s.defs {
		if d.Obsolete || d.ID == "" {
			continue
		}
		names = append(names, d.ID)
	}
	return names, nil
}

// PostgresSource reads the events directory from the retention_events table.
type PostgresSource struct {
	db *sql.DB
}

// NewPostgresSource creates a PostgreSQL-backed event source.
func NewPostgresSource(db *sql.DB) *PostgresSource {
	return &PostgresSource{db: db}
}

// ListNonObsoleteEventNames returns the ids of all non-obsolete events.
func (s *PostgresSource) ListNonObsoleteEventNames(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id
		FROM retention_events
		WHERE obsolete = false
		ORDER BY id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list retention events: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan retention event: %w", err)
		}
		names = append(names, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating retention events: %w", err)
	}
	return names, nil
}

// Upsert stores or replaces an event definition.
func (s *PostgresSource) Upsert(ctx context.Context, def Definition) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO retention_events (id, label, obsolete)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET label = EXCLUDED.label, obsolete = EXCLUDED.obsolete
	`, def.ID, def.Label, def.Obsolete)
	if err != nil {
		return fmt.Errorf("failed to upsert retention event %s: %w", def.ID, err)
	}
	return nil
}
