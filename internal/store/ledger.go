// Package store persists the conversion history.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/spherical/pdfcbz/internal/config"
	"github.com/spherical/pdfcbz/internal/domain"
	"github.com/spherical/pdfcbz/internal/observability"
)

// DB represents a database connection interface.
type DB interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// MaxRecent caps the rows returned by Recent.
const MaxRecent = 500

const schema = `
CREATE TABLE IF NOT EXISTS conversions (
	id              TEXT PRIMARY KEY,
	direction       TEXT NOT NULL,
	input_name      TEXT NOT NULL,
	input_bytes     BIGINT NOT NULL,
	output_bytes    BIGINT NOT NULL,
	pages           INTEGER NOT NULL,
	extracted_pages INTEGER NOT NULL,
	rendered_pages  INTEGER NOT NULL,
	duration_ms     BIGINT NOT NULL,
	status          TEXT NOT NULL,
	error           TEXT NOT NULL DEFAULT '',
	created_at      TIMESTAMP NOT NULL
)`

// SQLLedger records conversions in SQLite or PostgreSQL.
type SQLLedger struct {
	db    DB
	close func() error
}

// Open connects to the ledger database selected by cfg.Driver and creates
// the schema. It returns nil, nil when the ledger is disabled. log may be nil.
func Open(ctx context.Context, cfg config.LedgerConfig, log *observability.Logger) (*SQLLedger, error) {
	if log == nil {
		log = observability.Nop()
	}
	var driver string
	switch cfg.Driver {
	case "", "none":
		return nil, nil
	case "sqlite":
		driver = "sqlite3"
	case "postgres":
		driver = "postgres"
	default:
		return nil, domain.ConfigError(fmt.Sprintf("unknown ledger driver %q", cfg.Driver), nil)
	}

	db, err := sql.Open(driver, cfg.DSN)
	if err != nil {
		return nil, domain.ConfigError("open ledger database", err)
	}
	if driver == "sqlite3" {
		db.SetMaxOpenConns(1)
	}
	if err := pingWithBackoff(ctx, db, DefaultRetryConfig(), log); err != nil {
		_ = db.Close()
		return nil, domain.ConfigError("connect to ledger database", err)
	}

	l := &SQLLedger{db: db, close: db.Close}
	if err := l.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return l, nil
}

// NewSQLLedger wraps an open connection. The caller owns db.
func NewSQLLedger(db DB) *SQLLedger {
	return &SQLLedger{db: db, close: func() error { return nil }}
}

// Migrate creates the conversions table if it does not exist.
func (l *SQLLedger) Migrate(ctx context.Context) error {
	if _, err := l.db.ExecContext(ctx, schema); err != nil {
		return domain.IOError("create ledger schema", err)
	}
	return nil
}

// Record inserts rec, assigning an ID and timestamp when missing.
func (l *SQLLedger) Record(ctx context.Context, rec *domain.ConversionRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO conversions (id, direction, input_name, input_bytes, output_bytes,
			pages, extracted_pages, rendered_pages, duration_ms, status, error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err := l.db.ExecContext(ctx, query,
		rec.ID, string(rec.Direction), rec.InputName, rec.InputBytes, rec.OutputBytes,
		rec.Pages, rec.ExtractedPages, rec.RenderedPages, rec.DurationMS,
		rec.Status, rec.Error, rec.CreatedAt,
	)
	if err != nil {
		return domain.IOError("record conversion", err)
	}
	return nil
}

// Recent returns up to limit records, newest first.
func (l *SQLLedger) Recent(ctx context.Context, limit int) ([]domain.ConversionRecord, error) {
	if limit <= 0 || limit > MaxRecent {
		limit = MaxRecent
	}

	query := `
		SELECT id, direction, input_name, input_bytes, output_bytes,
			pages, extracted_pages, rendered_pages, duration_ms, status, error, created_at
		FROM conversions
		ORDER BY created_at DESC, id
		LIMIT $1
	`
	rows, err := l.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, domain.IOError("query conversions", err)
	}
	defer rows.Close()

	var out []domain.ConversionRecord
	for rows.Next() {
		var (
			rec       domain.ConversionRecord
			direction string
		)
		if err := rows.Scan(
			&rec.ID, &direction, &rec.InputName, &rec.InputBytes, &rec.OutputBytes,
			&rec.Pages, &rec.ExtractedPages, &rec.RenderedPages, &rec.DurationMS,
			&rec.Status, &rec.Error, &rec.CreatedAt,
		); err != nil {
			return nil, domain.IOError("scan conversion", err)
		}
		rec.Direction = domain.Direction(direction)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.IOError("iterate conversions", err)
	}
	return out, nil
}

// Close closes the database when the ledger opened it.
func (l *SQLLedger) Close() error {
	return l.close()
}
