// Package state records compile history in SQLite: runs, the rule-driven
// steps of each run, and the source fingerprints used to invalidate cached
// build outputs.
package state

import (
	"context"
	"time"
)

// RunStatus is the lifecycle state of a compile run.
type RunStatus string

// Run statuses.
const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// Counts summarizes what a run did.
type Counts struct {
	Staged      int
	Built       int
	Cached      int
	Passthrough int
	Collisions  int
}

// Run is one compile of a project.
type Run struct {
	ID          string
	Project     string
	Status      RunStatus
	StartedAt   time.Time
	CompletedAt *time.Time
	Error       string
	Counts
}

// Duration returns how long the run took, or zero while it is running.
func (r *Run) Duration() time.Duration {
	if r.CompletedAt == nil {
		return 0
	}
	return r.CompletedAt.Sub(r.StartedAt)
}

// Step is one rule-driven file processed by a run.
type Step struct {
	ID       string
	RunID    string
	Source   string
	Dest     string
	Rule     string
	Outcome  string
	Duration time.Duration
}

// Store persists compile history.
type Store interface {
	Open(path string) error
	Close() error
	Migrate() error

	CreateRun(ctx context.Context, project string) (*Run, error)
	CompleteRun(ctx context.Context, id string, status RunStatus, counts Counts, errMsg string) error
	GetRun(ctx context.Context, id string) (*Run, error)
	ListRuns(ctx context.Context, limit int) ([]*Run, error)

	RecordSteps(ctx context.Context, runID string, steps []Step) error
	ListSteps(ctx context.Context, runID string) ([]Step, error)

	Fingerprint(ctx context.Context, dest string) (string, bool, error)
	SetFingerprints(ctx context.Context, hashes map[string]string) error
	DeleteFingerprint(ctx context.Context, dest string) error
}
