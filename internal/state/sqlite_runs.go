package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

const runColumns = `id, project, status, started_at, completed_at, error, staged, built, cached, passthrough, collisions`

// CreateRun creates a new compile run.
func (s *SQLiteStore) CreateRun(ctx context.Context, project string) (*Run, error) {
	if s.db == nil {
		return nil, errNotOpened
	}

	run := &Run{
		ID:        generateID(),
		Project:   project,
		Status:    RunStatusRunning,
		StartedAt: time.Now().UTC(),
	}

	s.logger.Debug("creating run", slog.String("id", run.ID), slog.String("project", project))

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, project, status, started_at) VALUES (?, ?, ?, ?)`,
		run.ID, run.Project, string(run.Status), toMillis(run.StartedAt),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}

	return run, nil
}

// CompleteRun marks a run as finished with the given status and counts.
func (s *SQLiteStore) CompleteRun(ctx context.Context, id string, status RunStatus, counts Counts, errMsg string) error {
	if s.db == nil {
		return errNotOpened
	}

	var errorPtr *string
	if errMsg != "" {
		errorPtr = &errMsg
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, completed_at = ?, error = ?,
		 staged = ?, built = ?, cached = ?, passthrough = ?, collisions = ?
		 WHERE id = ?`,
		string(status), toMillis(time.Now().UTC()), errorPtr,
		counts.Staged, counts.Built, counts.Cached, counts.Passthrough, counts.Collisions,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return fmt.Errorf("run not found: %s", id)
	}

	return nil
}

// GetRun retrieves a run by ID.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*Run, error) {
	if s.db == nil {
		return nil, errNotOpened
	}

	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	return run, nil
}

// ListRuns returns the most recent runs, newest first. A limit of zero or
// less returns every run.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]*Run, error) {
	if s.db == nil {
		return nil, errNotOpened
	}
	if limit <= 0 {
		limit = -1
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}

	return runs, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*Run, error) {
	run := &Run{}
	var (
		status      string
		startedAt   int64
		completedAt sql.NullInt64
		errMsg      sql.NullString
	)

	err := row.Scan(&run.ID, &run.Project, &status, &startedAt, &completedAt, &errMsg,
		&run.Staged, &run.Built, &run.Cached, &run.Passthrough, &run.Collisions)
	if err != nil {
		return nil, err
	}

	run.Status = RunStatus(status)
	run.StartedAt = fromMillis(startedAt)
	if completedAt.Valid {
		t := fromMillis(completedAt.Int64)
		run.CompletedAt = &t
	}
	if errMsg.Valid {
		run.Error = errMsg.String
	}

	return run, nil
}
