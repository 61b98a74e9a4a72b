package audit

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// SQLStorage persists audit events to Postgres. The schema (see
// ApplyMigrations) denies UPDATE/DELETE on audit_events at the role level,
// enforcing the spec's "immutability at the storage layer, not merely in
// application code" requirement, and carries a UNIQUE index on sequence
// that arbitrates concurrent loggers writing to the same chain (spec.md
// §5: "the loser retries").
type SQLStorage struct {
	db *sqlx.DB
}

// NewSQLStorage wraps an already-connected *sqlx.DB (typically obtained
// from the database pool agent's shared slot).
func NewSQLStorage(db *sqlx.DB) *SQLStorage {
	return &SQLStorage{db: db}
}

type sqlEventRow struct {
	ID           string         `db:"id"`
	Timestamp    sql.NullTime   `db:"timestamp"`
	Kind         string         `db:"kind"`
	Severity     string         `db:"severity_level"`
	SourceJSON   sql.NullString `db:"source"`
	Method       sql.NullString `db:"method"`
	Path         sql.NullString `db:"path"`
	Status       sql.NullInt64  `db:"status"`
	DurationMs   sql.NullInt64  `db:"duration_ms"`
	ServiceName  string         `db:"service_name"`
	MetadataJSON sql.NullString `db:"metadata"`
	Sequence     int64          `db:"sequence"`
	PreviousHash sql.NullString `db:"previous_hash"`
	Hash         string         `db:"hash"`
}

func (s *SQLStorage) Append(ctx context.Context, e Event) error {
	sourceJSON, err := json.Marshal(e.Source)
	if err != nil {
		return err
	}
	var metadataJSON []byte
	if e.Metadata != nil {
		metadataJSON, err = json.Marshal(e.Metadata)
		if err != nil {
			return err
		}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_events
			(id, timestamp, kind, severity_level, source, method, path, status,
			 duration_ms, service_name, metadata, sequence, previous_hash, hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`, e.ID, e.Timestamp, e.Kind, e.Severity, sourceJSON, e.Method, e.Path,
		nullableInt(e.Status), nullableInt64(e.DurationMs), e.ServiceName,
		metadataJSON, e.Sequence, e.PreviousHash, e.Hash)
	return err
}

func (s *SQLStorage) Latest(ctx context.Context) (Event, bool, error) {
	var row sqlEventRow
	err := s.db.GetContext(ctx, &row,
		`SELECT id, timestamp, kind, severity_level, source, method, path, status,
		        duration_ms, service_name, metadata, sequence, previous_hash, hash
		   FROM audit_events ORDER BY sequence DESC LIMIT 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return Event{}, false, nil
	}
	if err != nil {
		return Event{}, false, err
	}
	e, err := rowToEvent(row)
	return e, true, err
}

func (s *SQLStorage) Range(ctx context.Context, fromSequence int64) ([]Event, error) {
	var rows []sqlEventRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT id, timestamp, kind, severity_level, source, method, path, status,
		        duration_ms, service_name, metadata, sequence, previous_hash, hash
		   FROM audit_events WHERE sequence >= $1 ORDER BY sequence ASC`, fromSequence)
	if err != nil {
		return nil, err
	}
	out := make([]Event, 0, len(rows))
	for _, r := range rows {
		e, err := rowToEvent(r)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func rowToEvent(r sqlEventRow) (Event, error) {
	var source Source
	if r.SourceJSON.Valid {
		if err := json.Unmarshal([]byte(r.SourceJSON.String), &source); err != nil {
			return Event{}, err
		}
	}
	var metadata map[string]interface{}
	if r.MetadataJSON.Valid && r.MetadataJSON.String != "" {
		if err := json.Unmarshal([]byte(r.MetadataJSON.String), &metadata); err != nil {
			return Event{}, err
		}
	}
	return Event{
		ID:           r.ID,
		Timestamp:    r.Timestamp.Time,
		Kind:         r.Kind,
		Severity:     Severity(r.Severity),
		Source:       source,
		Method:       r.Method.String,
		Path:         r.Path.String,
		Status:       int(r.Status.Int64),
		DurationMs:   r.DurationMs.Int64,
		ServiceName:  r.ServiceName,
		Metadata:     metadata,
		Sequence:     r.Sequence,
		PreviousHash: r.PreviousHash.String,
		Hash:         r.Hash,
	}, nil
}

func nullableInt(v int) sql.NullInt64 {
	if v == 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(v), Valid: true}
}

func nullableInt64(v int64) sql.NullInt64 {
	if v == 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: v, Valid: true}
}

//go:embed migrations/*.sql
var migrationFiles embed.FS

// ApplyMigrations runs the audit_events schema (table, sequence/timestamp
// indexes, UPDATE/DELETE revocation per spec.md §6's immutable-storage
// requirement) against dsn through golang-migrate, version-tracking the
// schema instead of re-issuing ad hoc DDL on every SQLStorage open.
func ApplyMigrations(dsn string) error {
	source, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return fmt.Errorf("load audit migration source: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", source, dsn)
	if err != nil {
		return fmt.Errorf("init audit migrator: %w", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("apply audit migrations: %w", err)
	}
	return nil
}
