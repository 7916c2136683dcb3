package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"
)

// Fingerprint returns the source hash recorded for a primary build output.
func (s *SQLiteStore) Fingerprint(ctx context.Context, dest string) (string, bool, error) {
	if s.db == nil {
		return "", false, errNotOpened
	}

	var hash string
	err := s.db.QueryRowContext(ctx, `SELECT hash FROM fingerprints WHERE dest = ?`, dest).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get fingerprint: %w", err)
	}

	return hash, true, nil
}

// SetFingerprints upserts source hashes keyed by primary output.
func (s *SQLiteStore) SetFingerprints(ctx context.Context, hashes map[string]string) error {
	if s.db == nil {
		return errNotOpened
	}
	if len(hashes) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	dests := make([]string, 0, len(hashes))
	for dest := range hashes {
		dests = append(dests, dest)
	}
	sort.Strings(dests)

	now := toMillis(time.Now().UTC())
	for _, dest := range dests {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO fingerprints (dest, hash, updated_at) VALUES (?, ?, ?)
			 ON CONFLICT(dest) DO UPDATE SET hash = excluded.hash, updated_at = excluded.updated_at`,
			dest, hashes[dest], now); err != nil {
			return fmt.Errorf("failed to set fingerprint for %s: %w", dest, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit fingerprints: %w", err)
	}
	return nil
}

// DeleteFingerprint removes the hash recorded for dest.
func (s *SQLiteStore) DeleteFingerprint(ctx context.Context, dest string) error {
	if s.db == nil {
		return errNotOpened
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM fingerprints WHERE dest = ?`, dest); err != nil {
		return fmt.Errorf("failed to delete fingerprint: %w", err)
	}
	return nil
}
