package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/laspad/internal/project"
)

// NeedOptions holds options for the need command.
type NeedOptions struct {
	NoDownload bool
}

// NewNeedCommand creates the need command.
func NewNeedCommand() *cobra.Command {
	opts := &NeedOptions{}

	cmd := &cobra.Command{
		Use:   "need <item>",
		Short: "Add a workshop item as a dependency",
		Long: `Declare a workshop item as a dependency in laspad.toml and download it.

The item is given as its hexadecimal ID or as a workshop URL. Items that
are already declared are left alone.`,
		Example: `  # Depend on an item by ID
  laspad need 5f4a3c1

  # Depend on an item by URL, download later
  laspad need "https://steamcommunity.com/sharedfiles/filedetails/?id=100000001" --no-download`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runNeed(cmd, args[0], opts)
		},
	}

	cmd.Flags().BoolVar(&opts.NoDownload, "no-download", false, "Only declare the dependency")

	return cmd
}

func runNeed(cmd *cobra.Command, arg string, opts *NeedOptions) error {
	item, err := project.ParseItemID(arg)
	if err != nil {
		return err
	}

	cmdCtx, err := NewCommandContextWithoutEngine(cmd)
	if err != nil {
		return err
	}
	r := cmdCtx.Renderer

	added, err := cmdCtx.Project.Need(item)
	if err != nil {
		return err
	}
	if added {
		r.Success(fmt.Sprintf("Added %s to dependencies", item))
	} else {
		r.Muted(fmt.Sprintf("%s is already a dependency", item))
	}

	if opts.NoDownload {
		return nil
	}

	dir := cmdCtx.Project.ItemPath(cmdCtx.Cfg.CacheDir, item)
	out, err := cmdCtx.newUpdater().Update(cmd.Context(), item, dir)
	if err != nil {
		return err
	}
	if out.Updated {
		r.Success(fmt.Sprintf("Downloaded %s (%d files)", item, out.Files))
	}
	return nil
}
