package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/laspad/internal/engine"
	"github.com/leapstack-labs/laspad/internal/project"
)

// PackageOptions holds options for the package command.
type PackageOptions struct {
	Branch string
	Out    string
	Raw    bool
}

// NewPackageCommand creates the package command.
func NewPackageCommand() *cobra.Command {
	opts := &PackageOptions{}

	cmd := &cobra.Command{
		Use:   "package",
		Short: "Compile the project into a zip archive",
		Long: `Compile the project and write the output into a zip archive whose first
entry is a .modinfo naming the branch.

With --raw the merged sources are archived without running build rules.`,
		Example: `  # Package the master branch into laspad_master.zip
  laspad package

  # Package the beta branch to a custom path
  laspad package --branch beta --out /tmp/beta.zip`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPackage(cmd, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.Branch, "branch", "b", project.DefaultBranch, "Branch to package")
	cmd.Flags().StringVar(&opts.Out, "out", "", "Archive path (default: laspad_<branch>.zip in the project)")
	cmd.Flags().BoolVar(&opts.Raw, "raw", false, "Archive merged sources without building")

	return cmd
}

func runPackage(cmd *cobra.Command, opts *PackageOptions) error {
	cmdCtx, cleanup, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	result, err := cmdCtx.Engine.Package(cmd.Context(), cmdCtx.Project, engine.PackageOptions{
		Branch: opts.Branch,
		Path:   opts.Out,
		Raw:    opts.Raw,
	})
	if err != nil {
		return err
	}

	r := cmdCtx.Renderer
	if result.Compile != nil {
		cmdCtx.printWarnings(result.Compile.Warnings)
		r.Muted(result.Compile.Summary())
	}
	r.Success(fmt.Sprintf("Packaged %d files for branch %s", result.Files, result.Branch))
	r.KeyValue("Archive", result.Path)
	return nil
}
