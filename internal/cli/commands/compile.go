package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/laspad/internal/cli/output"
	"github.com/leapstack-labs/laspad/internal/engine"
)

// NewCompileCommand creates the compile command.
func NewCompileCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "compile",
		Aliases: []string{"build"},
		Short:   "Merge the project and its dependencies into the output directory",
		Long: `Merge every dependency and then the project itself into the output
directory. Files matching a build rule are compiled with the configured
tool; everything else is linked or copied.

Outputs of the previous compile are reused when neither the source nor
the rule changed.`,
		Example: `  # Compile the project in the current directory
  laspad compile

  # Compile another project, copying instead of hard-linking
  laspad compile -C ../my-mod --link copy`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCompile(cmd)
		},
	}
	return cmd
}

type compileJSON struct {
	RunID        string   `json:"run_id,omitempty"`
	Output       string   `json:"output"`
	Dependencies int      `json:"dependencies"`
	Staged       int      `json:"staged"`
	Built        int      `json:"built"`
	Cached       int      `json:"cached"`
	Linked       int      `json:"linked"`
	Overridden   int      `json:"overridden"`
	DurationMS   int64    `json:"duration_ms"`
	Warnings     []string `json:"warnings"`
}

func runCompile(cmd *cobra.Command) error {
	cmdCtx, cleanup, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	result, err := cmdCtx.Engine.Compile(cmd.Context(), cmdCtx.Project)
	if err != nil {
		return err
	}
	return renderCompile(cmdCtx, result)
}

func renderCompile(cmdCtx *CommandContext, result *engine.Result) error {
	r := cmdCtx.Renderer
	if r.EffectiveMode() == output.ModeJSON {
		warnings := result.Warnings
		if warnings == nil {
			warnings = []string{}
		}
		enc := json.NewEncoder(r.Writer())
		enc.SetIndent("", "  ")
		return enc.Encode(compileJSON{
			RunID:        result.RunID,
			Output:       result.Output,
			Dependencies: result.Dependencies,
			Staged:       result.Stats.Staged,
			Built:        result.Stats.Built,
			Cached:       result.Stats.Cached,
			Linked:       result.Stats.Passthrough,
			Overridden:   result.Stats.Collisions,
			DurationMS:   result.Duration.Milliseconds(),
			Warnings:     warnings,
		})
	}

	cmdCtx.printWarnings(result.Warnings)
	r.Success(result.Summary())
	r.KeyValue("Output", result.Output)
	if result.RunID != "" {
		r.Muted(fmt.Sprintf("run %s", result.RunID))
	}
	return nil
}
