// Package resolver builds the ordered list of trees merged into a project's output.
//
// Order defines override priority: later entries win. Local dependencies come
// first (lexical order), then downloaded remote items in declaration order,
// then the project's own source. Any dependency that is itself a project is
// expanded in place, its own dependencies before its source.
package resolver

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/leapstack-labs/laspad/internal/dag"
	"github.com/leapstack-labs/laspad/internal/project"
	"github.com/leapstack-labs/laspad/internal/walker"
)

// DefaultCacheDir holds downloaded remote items, relative to the project root.
const DefaultCacheDir = ".dependencies_steam"

// Kind tells where a dependency came from.
type Kind int

// Dependency kinds.
const (
	KindLocal Kind = iota
	KindRemote
	KindProject
)

// String returns a short label.
func (k Kind) String() string {
	switch k {
	case KindLocal:
		return "local"
	case KindRemote:
		return "remote"
	case KindProject:
		return "project"
	default:
		return "unknown"
	}
}

// Dependency is one tree to merge.
type Dependency struct {
	Kind Kind
	// Name is the directory name, the item ID, or the project directory name.
	Name string
	// Path is the dependency root.
	Path string
	// Item is set for remote dependencies.
	Item project.ItemID
	// Project is set when the dependency root is itself a project; only its
	// own source is merged by this entry.
	Project *project.Project
	// Owner is the project root that declared the dependency.
	Owner string
	// Depth is the nesting level, 0 for the root project.
	Depth int
}

// Override returns the explicit source/output directories declared by the
// dependency's own project configuration, if any.
func (d Dependency) Override() *project.SourceOverride {
	if d.Project == nil {
		return nil
	}
	return d.Project.Config.SourceOverride()
}

// CycleError reports projects that nest each other.
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	return "circular project dependency: " + strings.Join(e.Path, " -> ")
}

// Options configure a Resolver.
type Options struct {
	// CacheDir is where remote items live; relative paths are resolved
	// against each project root. Defaults to DefaultCacheDir.
	CacheDir string
	Logger   *slog.Logger
}

// Resolver expands a project into its merge order.
type Resolver struct {
	cacheDir string
	logger   *slog.Logger
}

// Plan is the resolved merge order of one compile.
type Plan struct {
	Root         *project.Project
	Dependencies []Dependency
	// Graph holds every project reached, keyed by resolved path, with edges
	// from each nested project to the project that contains it.
	Graph    *dag.Graph
	Warnings []string
}

// ProjectNode is one project reached while resolving. Project paths are the
// graph IDs, with symlinks resolved.
type ProjectNode struct {
	Path    string
	Project *project.Project
	// Nested are the projects it contains directly.
	Nested []string
	// Includes are every project merged into it, transitively.
	Includes []string
	// UsedBy are the projects that contain it directly.
	UsedBy []string
}

// Projects returns every project reached, each after the projects it contains.
func (p *Plan) Projects() ([]ProjectNode, error) {
	nodes, err := p.Graph.TopologicalSort()
	if err != nil {
		return nil, err
	}
	out := make([]ProjectNode, 0, len(nodes))
	for _, n := range nodes {
		proj, _ := n.Data.(*project.Project)
		out = append(out, ProjectNode{
			Path:     n.ID,
			Project:  proj,
			Nested:   p.Graph.GetParents(n.ID),
			Includes: p.Graph.GetUpstreamNodes(n.ID),
			UsedBy:   p.Graph.GetChildren(n.ID),
		})
	}
	return out, nil
}

// New creates a resolver.
func New(opts Options) *Resolver {
	if opts.CacheDir == "" {
		opts.CacheDir = DefaultCacheDir
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	return &Resolver{cacheDir: opts.CacheDir, logger: opts.Logger}
}

// Resolve returns the merge order for p.
func (r *Resolver) Resolve(p *project.Project) (*Plan, error) {
	plan := &Plan{Root: p, Graph: dag.NewGraph()}
	id := projectID(p.Path)
	plan.Graph.AddNode(id, p)

	self := Dependency{
		Kind:    KindProject,
		Name:    filepath.Base(p.Path),
		Path:    p.Path,
		Project: p,
		Owner:   p.Path,
	}
	if err := r.resolveProject(plan, p, id, self); err != nil {
		return nil, err
	}

	r.logger.Debug("resolved dependencies",
		"project", p.Path,
		"count", len(plan.Dependencies),
		"projects", plan.Graph.NodeCount())
	return plan, nil
}

func (r *Resolver) resolveProject(plan *Plan, p *project.Project, id string, self Dependency) error {
	depsDir := p.DependenciesPath()
	entries, err := os.ReadDir(depsDir)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to read %s: %w", depsDir, err)
	}

	for _, e := range entries {
		if walker.IsHidden(e.Name()) {
			continue
		}
		path := filepath.Join(depsDir, e.Name())
		info, err := os.Stat(path)
		if err != nil {
			return fmt.Errorf("failed to stat dependency %s: %w", path, err)
		}
		if !info.IsDir() {
			r.logger.Debug("skipping non-directory in dependencies", "path", path)
			continue
		}
		dep := Dependency{
			Kind:  KindLocal,
			Name:  e.Name(),
			Path:  path,
			Owner: p.Path,
			Depth: self.Depth + 1,
		}
		if err := r.add(plan, id, dep); err != nil {
			return err
		}
	}

	for _, item := range p.Config.Dependencies() {
		path := p.ItemPath(r.cacheDir, item)
		if info, err := os.Stat(path); err != nil || !info.IsDir() {
			msg := fmt.Sprintf("remote dependency %s is not downloaded (expected at %s)", item, path)
			r.logger.Warn("remote dependency is not downloaded, run update", "item", item.String(), "path", path)
			plan.Warnings = append(plan.Warnings, msg)
			continue
		}
		dep := Dependency{
			Kind:  KindRemote,
			Name:  item.String(),
			Path:  path,
			Item:  item,
			Owner: p.Path,
			Depth: self.Depth + 1,
		}
		if err := r.add(plan, id, dep); err != nil {
			return err
		}
	}

	plan.Dependencies = append(plan.Dependencies, self)
	return nil
}

// add appends dep, expanding it first when it is a nested project. A
// configuration that cannot be loaded leaves dep as plain content.
func (r *Resolver) add(plan *Plan, ownerID string, dep Dependency) error {
	nested, err := project.Detect(dep.Path)
	if err != nil {
		r.logger.Warn("merging dependency as plain content, its project configuration is unreadable",
			"path", dep.Path, "error", err)
		plan.Warnings = append(plan.Warnings,
			fmt.Sprintf("dependency %s is merged as plain content: %v", dep.Path, err))
		nested = nil
	}
	if nested == nil {
		plan.Dependencies = append(plan.Dependencies, dep)
		return nil
	}

	nestedID := projectID(nested.Path)
	if nestedID == ownerID {
		return &CycleError{Path: []string{ownerID, nestedID}}
	}
	if seen, ok := plan.Graph.GetNode(nestedID); ok {
		// reached again through another owner; keep the first load
		nested = seen.Data.(*project.Project)
	}
	plan.Graph.AddNode(nestedID, nested)
	if err := plan.Graph.AddEdge(nestedID, ownerID); err != nil {
		return fmt.Errorf("failed to record nested project %s: %w", nested.Path, err)
	}
	if hasCycle, path := plan.Graph.HasCycle(); hasCycle {
		return &CycleError{Path: path}
	}

	r.logger.Debug("expanding nested project", "path", nested.Path, "format", nested.Config.Format().String(), "depth", dep.Depth)
	dep.Project = nested
	return r.resolveProject(plan, nested, nestedID, dep)
}

// projectID resolves symlinks so the same project reached twice has one identity.
func projectID(path string) string {
	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		return resolved
	}
	return filepath.Clean(path)
}
