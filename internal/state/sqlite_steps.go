package state

import (
	"context"
	"fmt"
	"time"
)

// RecordSteps stores the steps of a run in one transaction, preserving order.
func (s *SQLiteStore) RecordSteps(ctx context.Context, runID string, steps []Step) error {
	if s.db == nil {
		return errNotOpened
	}
	if len(steps) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO steps (id, run_id, seq, source, dest, rule, outcome, duration_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare step insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for i, step := range steps {
		if step.ID == "" {
			step.ID = generateID()
		}
		if _, err := stmt.ExecContext(ctx, step.ID, runID, i, step.Source, step.Dest, step.Rule,
			step.Outcome, step.Duration.Milliseconds()); err != nil {
			return fmt.Errorf("failed to record step %s: %w", step.Dest, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit steps: %w", err)
	}
	return nil
}

// ListSteps returns the steps of a run in the order they ran.
func (s *SQLiteStore) ListSteps(ctx context.Context, runID string) ([]Step, error) {
	if s.db == nil {
		return nil, errNotOpened
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, source, dest, rule, outcome, duration_ms
		 FROM steps WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list steps: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var steps []Step
	for rows.Next() {
		var step Step
		var ms int64
		if err := rows.Scan(&step.ID, &step.RunID, &step.Source, &step.Dest, &step.Rule, &step.Outcome, &ms); err != nil {
			return nil, fmt.Errorf("failed to scan step: %w", err)
		}
		step.Duration = time.Duration(ms) * time.Millisecond
		steps = append(steps, step)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list steps: %w", err)
	}

	return steps, nil
}
