package commands

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/laspad/internal/project"
)

// NewInitCommand creates the init command.
func NewInitCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init [directory]",
		Short: "Initialize a new laspad project",
		Long: `Initialize a new laspad project by writing an example laspad.toml.

When the directory is a git repository, build outputs and downloaded
dependencies are appended to its .gitignore.`,
		Example: `  # Initialize in current directory
  laspad init

  # Initialize in another directory
  laspad init my-mod`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) > 0 {
				dir = args[0]
			} else if f := cmd.Flag("project"); f != nil && f.Changed {
				dir = f.Value.String()
			}
			return runInit(cmd, dir)
		},
	}
	return cmd
}

func runInit(cmd *cobra.Command, dir string) error {
	cmdCtx, err := newBaseContext(cmd)
	if err != nil {
		return err
	}
	r := cmdCtx.Renderer

	p, err := project.Init(dir)
	if err != nil {
		return err
	}

	r.Success(fmt.Sprintf("Created %s", filepath.Join(p.Path, project.ConfigFile)))
	if p.IsGitRepository() {
		r.Muted("Updated .gitignore")
	}
	r.Println()
	r.Println("Next steps:")
	r.Println("  1. Put your mod files under src/")
	r.Println("  2. Add workshop dependencies with: laspad need <item>")
	r.Println("  3. Compile with: laspad compile")
	return nil
}
