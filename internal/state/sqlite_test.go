package state

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store := NewSQLiteStore(nil)
	if err := store.Open(":memory:"); err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	if err := store.Migrate(); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSQLiteStore_OpenClose(t *testing.T) {
	store := NewSQLiteStore(nil)

	if err := store.Open(":memory:"); err != nil {
		t.Fatalf("failed to open in-memory store: %v", err)
	}

	if err := store.Close(); err != nil {
		t.Fatalf("failed to close store: %v", err)
	}
}

func TestSQLiteStore_OpenCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".laspad", "state.db")
	store := NewSQLiteStore(nil)
	require.NoError(t, store.Open(path))
	defer store.Close()

	require.NoError(t, store.Migrate())
	assert.FileExists(t, path)
}

func TestSQLiteStore_Migrate(t *testing.T) {
	store := setupTestStore(t)

	for _, table := range []string{"runs", "steps", "fingerprints"} {
		rows, err := store.db.Query("SELECT 1 FROM " + table + " LIMIT 1")
		if assert.NoError(t, err, "table %s", table) {
			_ = rows.Close()
		}
	}

	version, err := store.GetMigrationVersion()
	require.NoError(t, err)
	assert.Equal(t, int64(1), version)

	// idempotent
	require.NoError(t, store.Migrate())
}

func TestSQLiteStore_NotOpened(t *testing.T) {
	ctx := context.Background()
	store := NewSQLiteStore(nil)

	_, err := store.CreateRun(ctx, "p")
	assert.ErrorIs(t, err, errNotOpened)
	assert.ErrorIs(t, store.Migrate(), errNotOpened)
	_, _, err = store.Fingerprint(ctx, "a")
	assert.ErrorIs(t, err, errNotOpened)
	assert.ErrorIs(t, store.RecordSteps(ctx, "r", []Step{{}}), errNotOpened)
	assert.NoError(t, store.Close())
}

func TestSQLiteStore_RunLifecycle(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name      string
		setup     func(t *testing.T, store *SQLiteStore) *Run
		operation func(t *testing.T, store *SQLiteStore, run *Run)
		verify    func(t *testing.T, store *SQLiteStore, run *Run)
	}{
		{
			name: "create run",
			setup: func(t *testing.T, store *SQLiteStore) *Run {
				run, err := store.CreateRun(ctx, "/mods/shine")
				require.NoError(t, err)
				return run
			},
			verify: func(t *testing.T, store *SQLiteStore, run *Run) {
				assert.NotEmpty(t, run.ID)
				assert.Equal(t, "/mods/shine", run.Project)
				assert.Equal(t, RunStatusRunning, run.Status)
				assert.Zero(t, run.Duration())
			},
		},
		{
			name: "get run not found",
			setup: func(t *testing.T, store *SQLiteStore) *Run {
				return nil
			},
			operation: func(t *testing.T, store *SQLiteStore, run *Run) {
				_, err := store.GetRun(ctx, "nonexistent-id")
				assert.ErrorContains(t, err, "run not found")
			},
		},
		{
			name: "complete run success",
			setup: func(t *testing.T, store *SQLiteStore) *Run {
				run, err := store.CreateRun(ctx, "p")
				require.NoError(t, err)
				return run
			},
			operation: func(t *testing.T, store *SQLiteStore, run *Run) {
				counts := Counts{Staged: 10, Built: 2, Cached: 1, Passthrough: 7, Collisions: 1}
				require.NoError(t, store.CompleteRun(ctx, run.ID, RunStatusCompleted, counts, ""))
			},
			verify: func(t *testing.T, store *SQLiteStore, run *Run) {
				got, err := store.GetRun(ctx, run.ID)
				require.NoError(t, err)
				assert.Equal(t, RunStatusCompleted, got.Status)
				require.NotNil(t, got.CompletedAt)
				assert.Equal(t, Counts{Staged: 10, Built: 2, Cached: 1, Passthrough: 7, Collisions: 1}, got.Counts)
				assert.Empty(t, got.Error)
				assert.GreaterOrEqual(t, got.Duration(), time.Duration(0))
			},
		},
		{
			name: "complete run with error",
			setup: func(t *testing.T, store *SQLiteStore) *Run {
				run, err := store.CreateRun(ctx, "p")
				require.NoError(t, err)
				return run
			},
			operation: func(t *testing.T, store *SQLiteStore, run *Run) {
				require.NoError(t, store.CompleteRun(ctx, run.ID, RunStatusFailed, Counts{}, "texture tool exited 1"))
			},
			verify: func(t *testing.T, store *SQLiteStore, run *Run) {
				got, err := store.GetRun(ctx, run.ID)
				require.NoError(t, err)
				assert.Equal(t, RunStatusFailed, got.Status)
				assert.Equal(t, "texture tool exited 1", got.Error)
			},
		},
		{
			name: "complete unknown run",
			setup: func(t *testing.T, store *SQLiteStore) *Run {
				return nil
			},
			operation: func(t *testing.T, store *SQLiteStore, run *Run) {
				err := store.CompleteRun(ctx, "missing", RunStatusCompleted, Counts{}, "")
				assert.ErrorContains(t, err, "run not found")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := setupTestStore(t)
			run := tt.setup(t, store)
			if tt.operation != nil {
				tt.operation(t, store, run)
			}
			if tt.verify != nil {
				tt.verify(t, store, run)
			}
		})
	}
}

func TestSQLiteStore_ListRuns(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)

	var ids []string
	for range 3 {
		run, err := store.CreateRun(ctx, "p")
		require.NoError(t, err)
		ids = append(ids, run.ID)
	}

	runs, err := store.ListRuns(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, ids[2], runs[0].ID, "newest first")
	assert.Equal(t, ids[1], runs[1].ID)

	all, err := store.ListRuns(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestSQLiteStore_Steps(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)

	run, err := store.CreateRun(ctx, "p")
	require.NoError(t, err)

	steps := []Step{
		{Source: "/p/src/level.level", Dest: "level.level", Rule: "level", Outcome: "built", Duration: 1500 * time.Millisecond},
		{Source: "/p/dependencies/a/t.psd", Dest: "t.dds", Rule: "psd", Outcome: "cached"},
	}
	require.NoError(t, store.RecordSteps(ctx, run.ID, steps))
	require.NoError(t, store.RecordSteps(ctx, run.ID, nil))

	got, err := store.ListSteps(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "level.level", got[0].Dest)
	assert.Equal(t, 1500*time.Millisecond, got[0].Duration)
	assert.Equal(t, run.ID, got[0].RunID)
	assert.Equal(t, "cached", got[1].Outcome)

	// steps must belong to a run
	err = store.RecordSteps(ctx, "missing-run", steps[:1])
	assert.Error(t, err)
}

func TestSQLiteStore_Fingerprints(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)

	_, ok, err := store.Fingerprint(ctx, "level.level")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.SetFingerprints(ctx, map[string]string{"level.level": "aa", "t.dds": "bb"}))
	require.NoError(t, store.SetFingerprints(ctx, map[string]string{"level.level": "cc"}))

	hash, ok, err := store.Fingerprint(ctx, "level.level")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "cc", hash)

	require.NoError(t, store.DeleteFingerprint(ctx, "t.dds"))
	_, ok, err = store.Fingerprint(ctx, "t.dds")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSQLiteStore_ErrorPaths(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name      string
		setupMock func(mock sqlmock.Sqlmock)
		call      func(store *SQLiteStore) error
		errMsg    string
	}{
		{
			name: "create run insert fails",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec("INSERT INTO runs").WillReturnError(assert.AnError)
			},
			call: func(store *SQLiteStore) error {
				_, err := store.CreateRun(ctx, "p")
				return err
			},
			errMsg: "failed to create run",
		},
		{
			name: "list runs query fails",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery("SELECT (.+) FROM runs").WillReturnError(assert.AnError)
			},
			call: func(store *SQLiteStore) error {
				_, err := store.ListRuns(ctx, 10)
				return err
			},
			errMsg: "failed to list runs",
		},
		{
			name: "step insert rolls back",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectPrepare("INSERT INTO steps").ExpectExec().WillReturnError(assert.AnError)
				mock.ExpectRollback()
			},
			call: func(store *SQLiteStore) error {
				return store.RecordSteps(ctx, "r", []Step{{Dest: "a.dds"}})
			},
			errMsg: "failed to record step a.dds",
		},
		{
			name: "fingerprint commit fails",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectExec("INSERT INTO fingerprints").WillReturnResult(sqlmock.NewResult(1, 1))
				mock.ExpectCommit().WillReturnError(assert.AnError)
			},
			call: func(store *SQLiteStore) error {
				return store.SetFingerprints(ctx, map[string]string{"a": "h"})
			},
			errMsg: "failed to commit fingerprints",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			require.NoError(t, err)
			defer db.Close()

			tt.setupMock(mock)
			store := NewSQLiteStore(nil)
			store.db = db

			err = tt.call(store)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
			assert.ErrorIs(t, err, assert.AnError)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}
