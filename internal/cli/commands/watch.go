package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/laspad/internal/project"
	"github.com/leapstack-labs/laspad/internal/watch"
)

// NewWatchCommand creates the watch command.
func NewWatchCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Recompile whenever the project changes",
		Long: `Compile the project, then watch it and compile again after every change.

Changes are debounced, and changes made during a compile trigger one more
compile once it finishes. A failed compile is reported and watching
continues. Stop with Ctrl+C.`,
		Example: `  # Watch the current project
  laspad watch

  # Wait for a full second of quiet before compiling
  laspad watch --debounce 1s`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWatch(cmd)
		},
	}

	cmd.Flags().Duration("debounce", watch.DefaultDebounce, "Quiet period before recompiling")

	return cmd
}

func runWatch(cmd *cobra.Command) error {
	cmdCtx, cleanup, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := cmdCtx.Project.Path
	compile := func(ctx context.Context) error {
		// laspad.toml may have changed since the last compile.
		p, err := project.Load(root)
		if err != nil {
			return err
		}
		result, err := cmdCtx.Engine.Compile(ctx, p)
		if err != nil {
			return err
		}
		return renderCompile(cmdCtx, result)
	}

	if err := compile(ctx); err != nil {
		cmdCtx.Logger.Error("initial compile failed", "error", err)
	}

	w, err := watch.New(watch.Config{
		Root:     root,
		Ignore:   watchIgnores(cmdCtx),
		Debounce: cmdCtx.Cfg.Watch.Debounce,
		OnChange: func(ctx context.Context, changed []string) error {
			cmdCtx.Logger.Info("recompiling", "changed", len(changed))
			return compile(ctx)
		},
		Logger: cmdCtx.Logger,
	})
	if err != nil {
		return err
	}

	cmdCtx.Renderer.Muted(fmt.Sprintf("Watching %s (Ctrl+C to stop)", root))
	return w.Run(ctx)
}

// watchIgnores returns the configured patterns plus the compile outputs,
// whose writes would otherwise retrigger the watcher.
func watchIgnores(cmdCtx *CommandContext) []string {
	out := cmdCtx.Cfg.OutputDir
	prev := "." + out + ".prev"
	ignores := append([]string{}, cmdCtx.Cfg.Watch.Ignore...)
	return append(ignores, out, out+"/**", prev, prev+"/**")
}
