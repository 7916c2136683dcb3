package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/laspad/internal/cli/output"
	"github.com/leapstack-labs/laspad/internal/workshop"
)

// NewUpdateCommand creates the update command.
func NewUpdateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "update",
		Short: "Download new versions of workshop dependencies",
		Long: `Check every workshop dependency of the project and download the items
whose published copy is newer than the one on disk.

A failed download keeps the previous copy in place.`,
		Example: `  # Update all workshop dependencies
  laspad update

  # Update with more parallel downloads
  laspad update --concurrency 8`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runUpdate(cmd)
		},
	}

	cmd.Flags().Int("concurrency", workshop.DefaultConcurrency, "Maximum parallel downloads")

	return cmd
}

type updateJSON struct {
	Item    string `json:"item"`
	Dir     string `json:"dir"`
	Updated bool   `json:"updated"`
	Files   int    `json:"files"`
	Remote  uint64 `json:"time_updated"`
}

func runUpdate(cmd *cobra.Command) error {
	cmdCtx, err := NewCommandContextWithoutEngine(cmd)
	if err != nil {
		return err
	}
	r := cmdCtx.Renderer

	outcomes, err := cmdCtx.newUpdater().UpdateProject(cmd.Context(), cmdCtx.Project, cmdCtx.Cfg.CacheDir)
	if err != nil {
		return err
	}

	if r.EffectiveMode() == output.ModeJSON {
		items := make([]updateJSON, 0, len(outcomes))
		for _, o := range outcomes {
			items = append(items, updateJSON{
				Item: o.Item.String(), Dir: o.Dir, Updated: o.Updated, Files: o.Files, Remote: o.Remote,
			})
		}
		enc := json.NewEncoder(r.Writer())
		enc.SetIndent("", "  ")
		return enc.Encode(items)
	}

	if len(outcomes) == 0 {
		r.Muted("No workshop dependencies")
		return nil
	}

	updated := 0
	for _, o := range outcomes {
		if o.Updated {
			updated++
			r.Success(fmt.Sprintf("%s updated (%d files)", o.Item, o.Files))
			continue
		}
		r.Muted(fmt.Sprintf("%s up to date", o.Item))
	}
	r.KeyValue("Updated", fmt.Sprintf("%d of %d", updated, len(outcomes)))
	return nil
}
