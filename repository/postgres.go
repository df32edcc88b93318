package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/liamcoop/retention/events"
)

// Postgres implements Repository backed by the documents table.
type Postgres struct {
	notifiers

	db *sql.DB

	// Now is the clock used for modification times and retention checks.
	Now func() time.Time
}

// NewPostgres creates a PostgreSQL-backed repository.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db, Now: time.Now}
}

func (p *Postgres) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

const selectDocument = `
	SELECT id, type, name, path, locked, trashed, facets, properties, version, modified_at
	FROM documents
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*Document, error) {
	var (
		doc   Document
		props []byte
	)
	err := row.Scan(&doc.ID, &doc.Type, &doc.Name, &doc.Path, &doc.Locked, &doc.Trashed,
		pq.Array(&doc.Facets), &props, &doc.Version, &doc.ModifiedAt)
	if err != nil {
		return nil, err
	}
	doc.Properties, err = decodeProperties(props)
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// Get retrieves a document by ID.
func (p *Postgres) Get(ctx context.Context, id string) (*Document, error) {
	doc, err := scanDocument(p.db.QueryRowContext(ctx, selectDocument+` WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	return doc, nil
}

// Create inserts a new document.
func (p *Postgres) Create(ctx context.Context, doc *Document) (*Document, error) {
	cp := doc.Clone()
	if cp.ID == "" {
		cp.ID = uuid.NewString()
	}
	if cp.Path == "" {
		cp.Path = childPath("/", cp.Name)
	}
	cp.Version = 1
	cp.ModifiedAt = p.now()

	props, err := encodeProperties(cp.Properties)
	if err != nil {
		return nil, err
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO documents (id, type, name, path, locked, trashed, facets, properties, version, modified_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, cp.ID, cp.Type, cp.Name, cp.Path, cp.Locked, cp.Trashed, pq.Array(cp.Facets), props, cp.Version, cp.ModifiedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert document: %w", err)
	}

	p.emit(ctx, events.DocumentCreated, cp.ID, WriteNormal)
	return cp, nil
}

// Save updates the document. See WriteMode for side effects.
func (p *Postgres) Save(ctx context.Context, doc *Document, mode WriteMode) (*Document, error) {
	props, err := encodeProperties(doc.Properties)
	if err != nil {
		return nil, err
	}

	query := `
		UPDATE documents
		SET type = $1, name = $2, path = $3, locked = $4, trashed = $5, facets = $6, properties = $7,
		    version = version + 1, modified_at = $8
		WHERE id = $9
	`
	args := []any{doc.Type, doc.Name, doc.Path, doc.Locked, doc.Trashed, pq.Array(doc.Facets), props, p.now(), doc.ID}
	if mode == WriteRetention {
		query = `
			UPDATE documents
			SET type = $1, name = $2, path = $3, locked = $4, trashed = $5, facets = $6, properties = $7
			WHERE id = $8
		`
		args = []any{doc.Type, doc.Name, doc.Path, doc.Locked, doc.Trashed, pq.Array(doc.Facets), props, doc.ID}
	}

	if err := p.execOne(ctx, doc.ID, query, args...); err != nil {
		return nil, err
	}

	p.emit(ctx, events.DocumentModified, doc.ID, mode)
	return p.Get(ctx, doc.ID)
}

// Move re-parents the document under parentPath.
func (p *Postgres) Move(ctx context.Context, id, parentPath string) (*Document, error) {
	doc, err := p.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	err = p.execOne(ctx, id, `
		UPDATE documents SET path = $1, version = version + 1, modified_at = $2 WHERE id = $3
	`, childPath(parentPath, doc.Name), p.now(), id)
	if err != nil {
		return nil, err
	}

	p.emit(ctx, events.DocumentMoved, id, WriteNormal)
	return p.Get(ctx, id)
}

// SetLocked locks or unlocks the document.
// Returns ErrLockState when the document is already in the requested state.
func (p *Postgres) SetLocked(ctx context.Context, id string, locked bool) (*Document, error) {
	result, err := p.db.ExecContext(ctx, `
		UPDATE documents SET locked = $1 WHERE id = $2 AND locked = $3
	`, locked, id, !locked)
	if err != nil {
		return nil, fmt.Errorf("failed to update lock: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		if _, err := p.Get(ctx, id); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s locked=%t", ErrLockState, id, locked)
	}

	name := events.DocumentUnlocked
	if locked {
		name = events.DocumentLocked
	}
	p.emit(ctx, name, id, WriteNormal)
	return p.Get(ctx, id)
}

// Trash moves the document to the trash.
func (p *Postgres) Trash(ctx context.Context, id string) (*Document, error) {
	if err := p.execOne(ctx, id, `UPDATE documents SET trashed = true WHERE id = $1`, id); err != nil {
		return nil, err
	}
	p.emit(ctx, events.DocumentTrashed, id, WriteNormal)
	return p.Get(ctx, id)
}

// Delete removes the document unless its marker still retains it.
func (p *Postgres) Delete(ctx context.Context, id string) error {
	marker, err := p.RetentionMarker(ctx, id)
	if err != nil {
		return err
	}
	if !marker.ExpiredAt(p.now()) {
		return fmt.Errorf("%w: %s until %s", ErrUnderRetention, id, marker)
	}
	if err := p.execOne(ctx, id, `DELETE FROM documents WHERE id = $1`, id); err != nil {
		return err
	}
	p.emit(ctx, events.DocumentRemoved, id, WriteNormal)
	return nil
}

// RetentionMarker returns the marker of the document.
func (p *Postgres) RetentionMarker(ctx context.Context, id string) (Marker, error) {
	var (
		until         sql.NullTime
		indeterminate bool
	)
	err := p.db.QueryRowContext(ctx, `
		SELECT retain_until, retain_indeterminate FROM documents WHERE id = $1
	`, id).Scan(&until, &indeterminate)
	if errors.Is(err, sql.ErrNoRows) {
		return Marker{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return Marker{}, fmt.Errorf("failed to get retention marker: %w", err)
	}

	switch {
	case indeterminate:
		return IndeterminateMarker(), nil
	case until.Valid:
		return MarkerUntil(until.Time), nil
	default:
		return NoMarker(), nil
	}
}

// SetRetentionMarker replaces the marker. NoMarker clears it.
func (p *Postgres) SetRetentionMarker(ctx context.Context, id string, m Marker) error {
	var until sql.NullTime
	if m.IsInstant() {
		until = sql.NullTime{Time: m.Until, Valid: true}
	}
	return p.execOne(ctx, id, `
		UPDATE documents SET retain_until = $1, retain_indeterminate = $2 WHERE id = $3
	`, until, m.IsIndeterminate(), id)
}

// IsUnderRetention reports whether the document has any marker.
func (p *Postgres) IsUnderRetention(ctx context.Context, id string) (bool, error) {
	m, err := p.RetentionMarker(ctx, id)
	if err != nil {
		return false, err
	}
	return !m.IsNone(), nil
}

// FindExpired returns ids with a concrete marker at or before now.
func (p *Postgres) FindExpired(ctx context.Context, now time.Time) ([]string, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id
		FROM documents
		WHERE retain_until IS NOT NULL AND retain_until <= $1
		ORDER BY id ASC
	`, now)
	if err != nil {
		return nil, fmt.Errorf("failed to find expired documents: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan document id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating expired documents: %w", err)
	}
	return ids, nil
}

func (p *Postgres) execOne(ctx context.Context, id, query string, args ...any) error {
	result, err := p.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update document %s: %w", id, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}
