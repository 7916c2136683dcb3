package commands

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/laspad/internal/cli/config"
	"github.com/leapstack-labs/laspad/internal/cli/output"
	"github.com/leapstack-labs/laspad/internal/engine"
	"github.com/leapstack-labs/laspad/internal/project"
	"github.com/leapstack-labs/laspad/internal/workshop"
)

// CommandContext holds common dependencies for CLI commands.
type CommandContext struct {
	Cfg      *config.Config
	Logger   *slog.Logger
	Project  *project.Project
	Engine   *engine.Engine
	Renderer *output.Renderer
}

// NewCommandContext loads the project and creates an engine.
// Returns the context and a cleanup function that must be called (typically via defer).
func NewCommandContext(cmd *cobra.Command) (*CommandContext, func(), error) {
	cmdCtx, err := NewCommandContextWithoutEngine(cmd)
	if err != nil {
		return nil, nil, err
	}

	engineCfg := cmdCtx.Cfg.EngineConfig()
	engineCfg.Logger = cmdCtx.Logger
	eng, err := engine.New(engineCfg)
	if err != nil {
		return nil, nil, err
	}
	cmdCtx.Engine = eng

	cleanup := func() {
		if err := eng.Close(); err != nil {
			cmdCtx.Logger.Warn("failed to close history store", "error", err)
		}
	}
	return cmdCtx, cleanup, nil
}

// NewCommandContextWithoutEngine loads the project only.
// Useful for commands that don't compile.
func NewCommandContextWithoutEngine(cmd *cobra.Command) (*CommandContext, error) {
	cmdCtx, err := newBaseContext(cmd)
	if err != nil {
		return nil, err
	}
	p, err := project.Load(cmdCtx.Cfg.ProjectRoot)
	if err != nil {
		return nil, fmt.Errorf("%w\nHint: run 'laspad init' to create a project, or use --project", err)
	}
	cmdCtx.Project = p
	return cmdCtx, nil
}

func newBaseContext(cmd *cobra.Command) (*CommandContext, error) {
	cfg, err := getConfig()
	if err != nil {
		return nil, err
	}
	return &CommandContext{
		Cfg:      cfg,
		Logger:   config.GetLogger(cmd.Context()),
		Renderer: output.NewRenderer(cmd.OutOrStdout(), cmd.ErrOrStderr(), output.Mode(cfg.OutputFormat)),
	}, nil
}

// getConfig returns the configuration loaded by the root command, loading
// it from the working directory when a command runs on its own.
func getConfig() (*config.Config, error) {
	if cfg := config.GetCurrentConfig(); cfg != nil {
		return cfg, nil
	}
	return config.LoadConfig("", nil)
}

// newUpdater creates a workshop updater from the settings.
func (c *CommandContext) newUpdater() *workshop.Updater {
	client := workshop.NewClient()
	client.DetailsURL = c.Cfg.Workshop.DetailsURL
	client.HTTP.Timeout = c.Cfg.Workshop.Timeout
	return workshop.NewUpdater(workshop.UpdaterOptions{
		Client:      client,
		Concurrency: c.Cfg.Workshop.Concurrency,
		Logger:      c.Logger,
	})
}

// printWarnings reports non-fatal problems collected by a command.
func (c *CommandContext) printWarnings(warnings []string) {
	for _, w := range warnings {
		c.Renderer.Warning(w)
	}
}
