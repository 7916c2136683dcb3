package engine

import (
	"context"
	"fmt"

	"github.com/leapstack-labs/laspad/internal/discovery"
	"github.com/leapstack-labs/laspad/internal/project"
	"github.com/leapstack-labs/laspad/internal/resolver"
	"github.com/leapstack-labs/laspad/internal/walker"
)

// Resolve returns the merge order of p.
func (e *Engine) Resolve(p *project.Project) (*resolver.Plan, error) {
	plan, err := e.resolver.Resolve(p)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve dependencies: %w", err)
	}
	return plan, nil
}

// Merge feeds every dependency of p, then p itself, into sink. Later
// entries are fed after earlier ones, so a sink that overwrites gets
// last-wins semantics. Missing content is collected as plan warnings.
func (e *Engine) Merge(ctx context.Context, p *project.Project, sink Sink) (*resolver.Plan, error) {
	plan, err := e.Resolve(p)
	if err != nil {
		return nil, err
	}

	for _, dep := range plan.Dependencies {
		found, err := discovery.Discover(dep.Path, discovery.Options{
			Override: dep.Override(),
			Logger:   e.logger.With("dependency", dep.Name),
		})
		if err != nil {
			return plan, fmt.Errorf("failed to discover sources of %s: %w", dep.Name, err)
		}
		plan.Warnings = append(plan.Warnings, found.Warnings...)

		e.logger.Debug("merging dependency",
			"dependency", dep.Name,
			"kind", dep.Kind.String(),
			"strategy", found.Strategy.String(),
			"dirs", len(found.Dirs))

		for _, dir := range found.Dirs {
			if err := feed(ctx, dir, sink); err != nil {
				return plan, fmt.Errorf("failed to merge %s: %w", dep.Name, err)
			}
		}
	}

	return plan, nil
}

// Archive feeds an already built tree into sink.
func (e *Engine) Archive(ctx context.Context, root string, sink Sink) error {
	if err := feed(ctx, root, sink); err != nil {
		return fmt.Errorf("failed to archive %s: %w", root, err)
	}
	return nil
}

func feed(ctx context.Context, root string, sink Sink) error {
	for entry, err := range walker.Walk(root) {
		if err != nil {
			return err
		}
		if entry.IsDir {
			err = sink.Dir(ctx, entry.Rel)
		} else {
			err = sink.File(ctx, entry.Abs, entry.Rel)
		}
		if err != nil {
			return err
		}
	}
	return nil
}
