package commands

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/leapstack-labs/laspad/internal/cli/output"
	"github.com/leapstack-labs/laspad/internal/discovery"
	"github.com/leapstack-labs/laspad/internal/resolver"
)

// NewDepsCommand creates the deps command.
func NewDepsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deps",
		Short: "Show the merge order of the project",
		Long: `Show every tree that is merged into the output, in merge order: local
dependencies, workshop items and nested projects first, the project last.
Later entries override earlier ones.

The strategy column names how the content directories were found. When
dependencies are projects themselves, the nested projects are listed in
build order with what each one includes.`,
		Example: `  # Show the merge order
  laspad deps

  # Show it as JSON
  laspad deps --output json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDeps(cmd)
		},
	}
	return cmd
}

// depRow is one merged tree with its discovered content.
type depRow struct {
	Name     string   `json:"name"`
	Kind     string   `json:"kind"`
	Depth    int      `json:"depth"`
	Path     string   `json:"path"`
	Strategy string   `json:"strategy"`
	Dirs     []string `json:"dirs"`
}

// projectRow is one project reached while resolving, nested ones first.
type projectRow struct {
	Path     string   `json:"path"`
	Format   string   `json:"format"`
	Nested   []string `json:"nested"`
	Includes []string `json:"includes"`
	UsedBy   []string `json:"used_by"`
}

type depsJSON struct {
	Dependencies []depRow     `json:"dependencies"`
	Projects     []projectRow `json:"projects"`
	Warnings     []string     `json:"warnings"`
}

func runDeps(cmd *cobra.Command) error {
	cmdCtx, err := NewCommandContextWithoutEngine(cmd)
	if err != nil {
		return err
	}

	res := resolver.New(resolver.Options{CacheDir: cmdCtx.Cfg.CacheDir, Logger: cmdCtx.Logger})
	plan, err := res.Resolve(cmdCtx.Project)
	if err != nil {
		return err
	}

	rows := make([]depRow, 0, len(plan.Dependencies))
	warnings := plan.Warnings
	for _, dep := range plan.Dependencies {
		found, err := discovery.Discover(dep.Path, discovery.Options{Override: dep.Override(), Logger: cmdCtx.Logger})
		if err != nil {
			return err
		}
		warnings = append(warnings, found.Warnings...)
		dirs := make([]string, 0, len(found.Dirs))
		for _, d := range found.Dirs {
			dirs = append(dirs, relTo(cmdCtx.Project.Path, d))
		}
		rows = append(rows, depRow{
			Name:     dep.Name,
			Kind:     dep.Kind.String(),
			Depth:    dep.Depth,
			Path:     relTo(cmdCtx.Project.Path, dep.Path),
			Strategy: found.Strategy.String(),
			Dirs:     dirs,
		})
	}

	projects, err := projectRows(cmdCtx.Project.Path, plan)
	if err != nil {
		return err
	}

	r := cmdCtx.Renderer
	if r.EffectiveMode() == output.ModeJSON {
		enc := json.NewEncoder(r.Writer())
		enc.SetIndent("", "  ")
		return enc.Encode(depsJSON{Dependencies: rows, Projects: projects, Warnings: warnings})
	}

	r.Header(1, fmt.Sprintf("Merge order (%d)", len(rows)))
	renderTable(r, depsTable(r, rows))
	if len(projects) > 1 {
		r.Println()
		r.Header(2, fmt.Sprintf("Projects (%d)", len(projects)))
		renderTable(r, projectsTable(r, projects))
	}
	cmdCtx.printWarnings(warnings)
	return nil
}

func projectRows(base string, plan *resolver.Plan) ([]projectRow, error) {
	// graph IDs have symlinks resolved
	if resolved, err := filepath.EvalSymlinks(base); err == nil {
		base = resolved
	}
	rel := func(paths []string) []string {
		out := make([]string, 0, len(paths))
		for _, p := range paths {
			out = append(out, relTo(base, p))
		}
		return out
	}

	nodes, err := plan.Projects()
	if err != nil {
		return nil, err
	}
	rows := make([]projectRow, 0, len(nodes))
	for _, n := range nodes {
		row := projectRow{
			Path:     relTo(base, n.Path),
			Nested:   rel(n.Nested),
			Includes: rel(n.Includes),
			UsedBy:   rel(n.UsedBy),
		}
		if n.Project != nil {
			row.Format = n.Project.Config.Format().String()
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func depsTable(r *output.Renderer, rows []depRow) table.Writer {
	titleCaser := cases.Title(language.English)

	t := table.NewWriter()
	t.SetOutputMirror(r.Writer())
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"#", "Name", "Kind", "Strategy", "Content"})
	for i, row := range rows {
		content := strings.Join(row.Dirs, ", ")
		if content == "" {
			content = "(nothing)"
		}
		t.AppendRow(table.Row{
			i + 1,
			strings.Repeat("  ", row.Depth) + row.Name,
			titleCaser.String(row.Kind),
			row.Strategy,
			content,
		})
	}
	return t
}

func projectsTable(r *output.Renderer, rows []projectRow) table.Writer {
	join := func(paths []string) string {
		if len(paths) == 0 {
			return "-"
		}
		return strings.Join(paths, ", ")
	}

	t := table.NewWriter()
	t.SetOutputMirror(r.Writer())
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Project", "Format", "Includes", "Used by"})
	for _, row := range rows {
		t.AppendRow(table.Row{row.Path, row.Format, join(row.Includes), join(row.UsedBy)})
	}
	return t
}

// relTo returns path relative to base when it lies inside it.
func relTo(base, path string) string {
	rel, err := filepath.Rel(base, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return path
	}
	if rel == "." {
		return "."
	}
	return filepath.ToSlash(rel)
}
