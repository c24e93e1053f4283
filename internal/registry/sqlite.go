// Package registry persists short id / long id pairs and reconciles them
// against the identifiers a document declares.
package registry

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Record is one registered (short id, long id) pair.
type Record struct {
	ID      int64  `json:"-"`
	ShortID string `json:"v2"`
	LongID  string `json:"v3"`
}

// Registry wraps the SQLite database holding pid_versions.
type Registry struct {
	db          *sql.DB
	logger      *slog.Logger
	busyTimeout time.Duration
}

// Option configures a Registry.
type Option func(*Registry)

// WithBusyTimeout sets how long a statement waits on a locked database.
func WithBusyTimeout(d time.Duration) Option {
	return func(r *Registry) {
		r.busyTimeout = d
	}
}

// WithLogger sets the logger used for non-fatal registry events.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

const selectRecordFields = `id, v2, v3`

// Open opens or creates the registry database at the given path.
func Open(path string, opts ...Option) (*Registry, error) {
	r := &Registry{
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(r)
	}

	dsn := path
	if r.busyTimeout > 0 {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn += fmt.Sprintf("%s_pragma=busy_timeout(%d)", sep, r.busyTimeout.Milliseconds())
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening registry: %w", err)
	}

	// SQLite doesn't support concurrent writes
	db.SetMaxOpenConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating registry schema: %w", err)
	}

	r.db = db
	return r, nil
}

// Close closes the database connection.
func (r *Registry) Close() error {
	if r.db == nil {
		return nil
	}
	return r.db.Close()
}

func createSchema(db *sql.DB) error {
	schema := `
		CREATE TABLE IF NOT EXISTS pid_versions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			v2 VARCHAR(23),
			v3 VARCHAR(255),
			CONSTRAINT _v2_v3_uc UNIQUE (v2, v3)
		);

		CREATE INDEX IF NOT EXISTS idx_pid_versions_v2 ON pid_versions(v2);
		CREATE INDEX IF NOT EXISTS idx_pid_versions_v3 ON pid_versions(v3);
	`
	_, err := db.Exec(schema)
	return err
}

// withTx runs fn inside one transaction. The transaction is rolled back on
// every path that does not reach a successful commit.
func (r *Registry) withTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return &TransientError{Op: op + ": begin", Err: err}
	}
	defer tx.Rollback() // No-op after commit

	if err := fn(tx); err != nil {
		return &TransientError{Op: op, Err: err}
	}
	if err := tx.Commit(); err != nil {
		return &TransientError{Op: op + ": commit", Err: err}
	}
	return nil
}

// LookupLongID returns the long id of the oldest record for shortID, or ""
// when the short id is not registered.
func (r *Registry) LookupLongID(ctx context.Context, shortID string) (string, error) {
	var longID sql.NullString
	err := r.db.QueryRowContext(ctx, `
		SELECT v3 FROM pid_versions
		WHERE v2 = ?
		ORDER BY id
		LIMIT 1
	`, shortID).Scan(&longID)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("looking up %s: %w", shortID, err)
	}
	return longID.String, nil
}

// Register inserts a pair. It returns false without error when the pair is
// already registered.
func (r *Registry) Register(ctx context.Context, shortID, longID string) (bool, error) {
	var inserted bool
	err := r.withTx(ctx, "register", func(tx *sql.Tx) error {
		n, err := insertPair(ctx, tx, shortID, longID)
		inserted = n > 0
		return err
	})
	if err != nil {
		return false, err
	}
	if !inserted {
		r.logger.Debug("pair already registered", "v2", shortID, "v3", longID)
	}
	return inserted, nil
}

// IsRegistered reports whether exactly the pair (shortID, longID) exists.
func (r *Registry) IsRegistered(ctx context.Context, shortID, longID string) (bool, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM pid_versions WHERE v2 = ? AND v3 = ?
	`, shortID, longID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("checking pair %s/%s: %w", shortID, longID, err)
	}
	return count == 1, nil
}

// RecordsFor returns every record whose short id is shortID, oldest first.
func (r *Registry) RecordsFor(ctx context.Context, shortID string) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+selectRecordFields+` FROM pid_versions WHERE v2 = ? ORDER BY id
	`, shortID)
	if err != nil {
		return nil, fmt.Errorf("querying records for %s: %w", shortID, err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// All returns every record, oldest first.
func (r *Registry) All(ctx context.Context) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+selectRecordFields+` FROM pid_versions ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("listing records: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// Count returns the number of records.
func (r *Registry) Count(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM pid_versions").Scan(&count)
	return count, err
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func recordsByShortID(ctx context.Context, q querier, shortID string) ([]Record, error) {
	if shortID == "" {
		return nil, nil
	}
	rows, err := q.QueryContext(ctx, `
		SELECT `+selectRecordFields+` FROM pid_versions WHERE v2 = ? ORDER BY id
	`, shortID)
	if err != nil {
		return nil, fmt.Errorf("querying v2 %s: %w", shortID, err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

func recordsByLongID(ctx context.Context, q querier, longID string) ([]Record, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT `+selectRecordFields+` FROM pid_versions WHERE v3 = ? ORDER BY id
	`, longID)
	if err != nil {
		return nil, fmt.Errorf("querying v3 %s: %w", longID, err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// insertPair inserts (shortID, longID) unless it exists. Pairs with an empty
// side are never stored.
func insertPair(ctx context.Context, q querier, shortID, longID string) (int64, error) {
	if shortID == "" || longID == "" {
		return 0, nil
	}
	res, err := q.ExecContext(ctx, `
		INSERT INTO pid_versions (v2, v3) VALUES (?, ?)
		ON CONFLICT(v2, v3) DO NOTHING
	`, shortID, longID)
	if err != nil {
		return 0, fmt.Errorf("inserting %s/%s: %w", shortID, longID, err)
	}
	return res.RowsAffected()
}

func deleteRecord(ctx context.Context, q querier, id int64) error {
	if _, err := q.ExecContext(ctx, "DELETE FROM pid_versions WHERE id = ?", id); err != nil {
		return fmt.Errorf("deleting record %d: %w", id, err)
	}
	return nil
}

func scanRecords(rows *sql.Rows) ([]Record, error) {
	var records []Record
	for rows.Next() {
		var rec Record
		var shortID, longID sql.NullString
		if err := rows.Scan(&rec.ID, &shortID, &longID); err != nil {
			return nil, err
		}
		rec.ShortID = shortID.String
		rec.LongID = longID.String
		records = append(records, rec)
	}
	return records, rows.Err()
}
