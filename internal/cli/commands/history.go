package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/leapstack-labs/laspad/internal/cli/output"
	"github.com/leapstack-labs/laspad/internal/state"
)

// errHistoryDisabled is returned when the history store is turned off.
var errHistoryDisabled = errors.New("compile history is disabled (history: false)")

// HistoryOptions holds options for the history command.
type HistoryOptions struct {
	Limit int
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand() *cobra.Command {
	opts := &HistoryOptions{}

	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "Show recent compiles",
		Long: `Show recent compile runs recorded in the history store, newest first.

With a run ID, show the files that run built and how long each took.`,
		Example: `  # Show the last 10 compiles
  laspad history

  # Show the built files of one run
  laspad history 0b6f7d0e-2f4c-4c55-9a5b-0c7e3f8a9d21`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				return runHistoryRun(cmd, args[0])
			}
			return runHistory(cmd, opts)
		},
	}

	cmd.Flags().IntVarP(&opts.Limit, "limit", "n", 10, "Number of runs to show")

	return cmd
}

type runJSON struct {
	ID          string       `json:"id"`
	Status      string       `json:"status"`
	StartedAt   time.Time    `json:"started_at"`
	CompletedAt *time.Time   `json:"completed_at,omitempty"`
	DurationMS  int64        `json:"duration_ms"`
	Error       string       `json:"error,omitempty"`
	Counts      state.Counts `json:"counts"`
}

func historyStore(cmd *cobra.Command) (*CommandContext, state.Store, func(), error) {
	cmdCtx, cleanup, err := NewCommandContext(cmd)
	if err != nil {
		return nil, nil, nil, err
	}
	store := cmdCtx.Engine.Store()
	if store == nil {
		cleanup()
		return nil, nil, nil, errHistoryDisabled
	}
	return cmdCtx, store, cleanup, nil
}

func runHistory(cmd *cobra.Command, opts *HistoryOptions) error {
	cmdCtx, store, cleanup, err := historyStore(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	runs, err := store.ListRuns(cmd.Context(), opts.Limit)
	if err != nil {
		return err
	}

	r := cmdCtx.Renderer
	if r.EffectiveMode() == output.ModeJSON {
		items := make([]runJSON, 0, len(runs))
		for _, run := range runs {
			items = append(items, runJSON{
				ID:          run.ID,
				Status:      string(run.Status),
				StartedAt:   run.StartedAt,
				CompletedAt: run.CompletedAt,
				DurationMS:  run.Duration().Milliseconds(),
				Error:       run.Error,
				Counts:      run.Counts,
			})
		}
		enc := json.NewEncoder(r.Writer())
		enc.SetIndent("", "  ")
		return enc.Encode(items)
	}

	if len(runs) == 0 {
		r.Muted("No compiles recorded yet")
		return nil
	}

	t := table.NewWriter()
	t.SetOutputMirror(r.Writer())
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Run", "Started", "Status", "Duration", "Files", "Built", "Cached", "Linked"})
	for _, run := range runs {
		t.AppendRow(table.Row{
			shortID(run.ID),
			run.StartedAt.Local().Format(time.DateTime),
			run.Status,
			run.Duration().Round(time.Millisecond),
			run.Staged,
			run.Built,
			run.Cached,
			run.Passthrough,
		})
	}
	renderTable(r, t)

	for _, run := range runs {
		if run.Status == state.RunStatusFailed && run.Error != "" {
			r.Warning(fmt.Sprintf("%s: %s", shortID(run.ID), run.Error))
		}
	}
	return nil
}

func runHistoryRun(cmd *cobra.Command, id string) error {
	cmdCtx, store, cleanup, err := historyStore(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	run, err := store.GetRun(cmd.Context(), id)
	if err != nil {
		return err
	}
	steps, err := store.ListSteps(cmd.Context(), run.ID)
	if err != nil {
		return err
	}

	r := cmdCtx.Renderer
	if r.EffectiveMode() == output.ModeJSON {
		enc := json.NewEncoder(r.Writer())
		enc.SetIndent("", "  ")
		return enc.Encode(steps)
	}

	r.Header(1, "Run "+run.ID)
	r.KeyValue("Status", string(run.Status))
	r.KeyValue("Started", run.StartedAt.Local().Format(time.DateTime))
	r.KeyValue("Duration", run.Duration().Round(time.Millisecond).String())
	if run.Error != "" {
		r.KeyValue("Error", run.Error)
	}
	if len(steps) == 0 {
		r.Muted("No files were built")
		return nil
	}

	t := table.NewWriter()
	t.SetOutputMirror(r.Writer())
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Output", "Rule", "Outcome", "Duration"})
	for _, s := range steps {
		t.AppendRow(table.Row{s.Dest, s.Rule, s.Outcome, s.Duration.Round(time.Millisecond)})
	}
	renderTable(r, t)
	return nil
}

func renderTable(r *output.Renderer, t table.Writer) {
	if r.EffectiveMode() == output.ModeMarkdown {
		t.RenderMarkdown()
		return
	}
	t.Render()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
