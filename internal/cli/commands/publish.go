package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/laspad/internal/engine"
	"github.com/leapstack-labs/laspad/internal/project"
	"github.com/leapstack-labs/laspad/internal/workshop"
)

// PublishOptions holds options for the publish command.
type PublishOptions struct {
	Branch string
	Raw    bool
}

// NewPublishCommand creates the publish command.
func NewPublishCommand() *cobra.Command {
	opts := &PublishOptions{}

	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Package a branch and hand it to the workshop uploader",
		Long: `Package a branch, write its description and preview next to the archive,
and run the uploader configured under workshop.uploader.

Placeholders in the uploader arguments:
  {archive} {preview} {description} {title} {item} {branch} {tags} {changenote}

When the branch has no item yet, {item} is empty and the uploader must
print the ID of the created item on its last output line. The ID is
recorded in .modid.<branch> for later publishes.`,
		Example: `  # Publish the master branch
  laspad publish

  # Publish the beta branch
  laspad publish --branch beta`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPublish(cmd, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.Branch, "branch", "b", project.DefaultBranch, "Branch to publish")
	cmd.Flags().BoolVar(&opts.Raw, "raw", false, "Publish merged sources without building")

	return cmd
}

func runPublish(cmd *cobra.Command, opts *PublishOptions) error {
	cmdCtx, cleanup, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	if len(cmdCtx.Cfg.Workshop.Uploader) == 0 {
		return fmt.Errorf("%w\nHint: set workshop.uploader in .laspad.yaml", workshop.ErrNoUploader)
	}

	eng := cmdCtx.Engine
	pkg, err := eng.Package(cmd.Context(), cmdCtx.Project, engine.PackageOptions{
		Branch: opts.Branch,
		Raw:    opts.Raw,
	})
	if err != nil {
		return err
	}
	if pkg.Compile != nil {
		cmdCtx.printWarnings(pkg.Compile.Warnings)
	}

	plan, err := eng.Resolve(cmdCtx.Project)
	if err != nil {
		return err
	}

	publisher := workshop.NewPublisher(workshop.PublisherOptions{
		Command: cmdCtx.Cfg.Workshop.Uploader,
		Output:  cmd.ErrOrStderr(),
		Logger:  cmdCtx.Logger,
	})
	result, err := publisher.Publish(cmd.Context(), workshop.PublishRequest{
		Project:    cmdCtx.Project,
		BranchName: pkg.Branch,
		Archive:    pkg.Path,
		Mods:       workshop.IncludedMods(plan),
	})
	if err != nil {
		return err
	}

	r := cmdCtx.Renderer
	if result.Created {
		r.Success(fmt.Sprintf("Created workshop item %s for branch %s", result.Item, pkg.Branch))
	} else {
		r.Success(fmt.Sprintf("Published branch %s", pkg.Branch))
	}
	r.KeyValue("Item", result.Item.URL())
	r.KeyValue("Archive", pkg.Path)
	return nil
}
