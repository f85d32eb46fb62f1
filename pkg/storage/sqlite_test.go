package storage

import (
	"database/sql"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRecordsEveryMigration(t *testing.T) {
	store := newTestStore(t)

	version, err := store.SchemaVersion()
	require.NoError(t, err)
	assert.Equal(t, migrations[len(migrations)-1].version, version)

	history, err := store.MigrationHistory()
	require.NoError(t, err)
	require.Len(t, history, len(migrations))
	for i, applied := range history {
		assert.Equal(t, migrations[i].version, applied.Version)
		assert.Equal(t, migrations[i].name, applied.Name)
		assert.False(t, applied.AppliedAt.IsZero(), "migration %d has no timestamp", applied.Version)
	}
}

func TestReopenDoesNotReapplyMigrations(t *testing.T) {
	path := filepath.Join(t.TempDir(), "excella.db")

	first, err := New(path)
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := New(path)
	require.NoError(t, err)
	defer second.Close()

	history, err := second.MigrationHistory()
	require.NoError(t, err)
	assert.Len(t, history, len(migrations))
}

func TestLegacyApprovalTableGainsPlanColumns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "legacy.db")
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	_, err = db.Exec(`CREATE TABLE pending_approvals (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		tool_name TEXT NOT NULL,
		tool_input TEXT NOT NULL,
		risk_reasons TEXT,
		status TEXT NOT NULL DEFAULT 'pending',
		decided_by TEXT,
		decided_at TIMESTAMP,
		expires_at TIMESTAMP NOT NULL,
		created_at TIMESTAMP NOT NULL
	)`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	store, err := New(path)
	require.NoError(t, err)
	defer store.Close()

	cols, err := tableColumns(store.DB(), "pending_approvals")
	require.NoError(t, err)
	for _, col := range []string{"snapshot_id", "risk_level", "decision_reason"} {
		assert.True(t, cols[col], "missing column %s", col)
	}
}

func TestDBFilePath(t *testing.T) {
	tests := []struct {
		dsn    string
		want   string
		onDisk bool
	}{
		{"", "", false},
		{":memory:", "", false},
		{"file::memory:?cache=shared", "", false},
		{"/var/lib/excella.db", "/var/lib/excella.db", true},
		{"file:/tmp/x.db?_pragma=busy_timeout(1)", "/tmp/x.db", true},
		{"postgres://host/db", "", false},
	}
	for _, tt := range tests {
		got, ok := dbFilePath(tt.dsn)
		assert.Equal(t, tt.onDisk, ok, tt.dsn)
		assert.Equal(t, tt.want, got, tt.dsn)
	}
}

func TestNewCreatesOwnerOnlyFile(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission bits are not meaningful on windows")
	}
	path := filepath.Join(t.TempDir(), "nested", "excella.db")

	store, err := New(path)
	require.NoError(t, err)
	require.NoError(t, store.Close())

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	dir, err := os.Stat(filepath.Dir(path))
	require.NoError(t, err)
	assert.Zero(t, dir.Mode().Perm()&0o077)
}

func TestClosedStoreRejectsWrites(t *testing.T) {
	store := &Store{}
	assert.ErrorIs(t, store.AppendTurn(&Turn{SessionID: "s"}), ErrStoreClosed)
}
