package storage

import (
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	sqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

//go:embed schema.sql
var schemaSQL string

// Store is the SQLite-backed persistence layer: the conversation turn log,
// agent memory, pending approvals and the tool audit log.
type Store struct {
	db *sql.DB

	observerMu sync.RWMutex
	observers  []Observer
}

// ErrStoreClosed indicates the underlying database connection is unavailable.
var ErrStoreClosed = errors.New("storage: closed")

// pragmas run on every open. WAL lets the API server read while a CLI
// process records a decision.
var pragmas = []string{
	"PRAGMA journal_mode = WAL",
	"PRAGMA busy_timeout = 5000",
	"PRAGMA foreign_keys = ON",
}

// New opens (creating if needed) the database at dsn and migrates it.
// On-disk databases are created owner-only since they hold conversation
// content.
func New(dsn string) (*Store, error) {
	if path, ok := dbFilePath(dsn); ok {
		if err := createPrivate(path); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(4)

	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", p, err)
		}
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// dbFilePath extracts the file behind a DSN. In-memory and non-file DSNs
// report false.
func dbFilePath(dsn string) (string, bool) {
	dsn = strings.TrimSpace(dsn)
	switch {
	case dsn == "" || dsn == ":memory:":
		return "", false
	case strings.HasPrefix(dsn, "file:"):
		u, err := url.Parse(dsn)
		if err != nil {
			return "", false
		}
		path := u.Path
		if path == "" {
			path = u.Opaque
		}
		if path == "" || path == ":memory:" {
			return "", false
		}
		return path, true
	case strings.Contains(dsn, "://"):
		return "", false
	}
	return dsn, true
}

func createPrivate(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create database directory: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	switch {
	case err == nil:
		return f.Close()
	case os.IsExist(err):
		return nil
	default:
		return fmt.Errorf("create database file: %w", err)
	}
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the connection for maintenance queries.
func (s *Store) DB() *sql.DB {
	return s.db
}

// migration upgrades databases written by older releases. The base schema
// is idempotent; migrations only patch tables that predate a column.
type migration struct {
	version int
	name    string
	apply   func(tx *sql.Tx) error
}

var migrations = []migration{
	{1, "initial_schema", func(*sql.Tx) error { return nil }},
	{2, "pending_approvals_plan_columns", addApprovalPlanColumns},
	{3, "agent_memory_updated_index", func(tx *sql.Tx) error {
		_, err := tx.Exec(`CREATE INDEX IF NOT EXISTS idx_agent_memory_updated ON agent_memory(updated_at)`)
		return err
	}},
}

// AppliedMigration is one row of the migration history.
type AppliedMigration struct {
	Version   int
	Name      string
	AppliedAt time.Time
}

func migrate(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("base schema: %w", err)
	}
	current, err := schemaVersion(db)
	if err != nil {
		return err
	}
	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		tx, err := db.Begin()
		if err != nil {
			return err
		}
		if err := m.apply(tx); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d (%s): %w", m.version, m.name, err)
		}
		if _, err := tx.Exec(`INSERT INTO schema_migrations (version, name) VALUES (?, ?)`, m.version, m.name); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.version, err)
		}
	}
	return nil
}

func schemaVersion(q interface {
	QueryRow(string, ...any) *sql.Row
}) (int, error) {
	var version int
	if err := q.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&version); err != nil {
		return 0, fmt.Errorf("schema version: %w", err)
	}
	return version, nil
}

// SchemaVersion returns the highest applied migration.
func (s *Store) SchemaVersion() (int, error) {
	return schemaVersion(s.db)
}

// MigrationHistory lists applied migrations in version order.
func (s *Store) MigrationHistory() ([]AppliedMigration, error) {
	rows, err := s.db.Query(`SELECT version, name, applied_at FROM schema_migrations ORDER BY version`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var history []AppliedMigration
	for rows.Next() {
		var m AppliedMigration
		if err := rows.Scan(&m.Version, &m.Name, &m.AppliedAt); err != nil {
			return nil, err
		}
		history = append(history, m)
	}
	return history, rows.Err()
}

// tableColumns returns the lower-cased column names of table. A missing
// table yields an empty set.
func tableColumns(q interface {
	Query(string, ...any) (*sql.Rows, error)
}, table string) (map[string]bool, error) {
	rows, err := q.Query(fmt.Sprintf(`SELECT name FROM pragma_table_info('%s')`, table))
	if err != nil {
		return nil, fmt.Errorf("%s columns: %w", table, err)
	}
	defer rows.Close()

	cols := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		cols[strings.ToLower(name)] = true
	}
	return cols, rows.Err()
}

// addApprovalPlanColumns patches approval tables created before approvals
// carried the snapshot, risk and decision reason.
func addApprovalPlanColumns(tx *sql.Tx) error {
	cols, err := tableColumns(tx, "pending_approvals")
	if err != nil {
		return err
	}
	for _, col := range []string{"snapshot_id", "risk_level", "decision_reason"} {
		if cols[col] {
			continue
		}
		if _, err := tx.Exec(`ALTER TABLE pending_approvals ADD COLUMN ` + col + ` TEXT`); err != nil {
			return fmt.Errorf("add pending_approvals.%s: %w", col, err)
		}
	}
	return nil
}

func isBusy(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	code := sqliteErr.Code()
	return code == sqlite3.SQLITE_BUSY || code == sqlite3.SQLITE_LOCKED
}

// execWithRetry retries writes that still hit SQLITE_BUSY after the busy
// timeout, which happens when two processes share the database.
func (s *Store) execWithRetry(query string, args ...any) (sql.Result, error) {
	var (
		res sql.Result
		err error
	)
	for attempt := 1; attempt <= 3; attempt++ {
		res, err = s.db.Exec(query, args...)
		if !isBusy(err) {
			return res, err
		}
		time.Sleep(time.Duration(attempt) * 50 * time.Millisecond)
	}
	return res, err
}
