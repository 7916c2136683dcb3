package engine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/leapstack-labs/laspad/internal/archive"
	"github.com/leapstack-labs/laspad/internal/project"
)

// PackageOptions configure Package.
type PackageOptions struct {
	// Branch selects the publish metadata; defaults to master.
	Branch string
	// Path is the archive to write; defaults to ArchivePath.
	Path string
	// Raw archives the merged sources without running build rules.
	Raw bool
}

// PackageResult describes a written archive.
type PackageResult struct {
	Path   string
	Branch string
	Files  int
	// Compile is nil for raw packages.
	Compile *Result
}

// ArchivePath returns the default archive location for a branch.
func ArchivePath(p *project.Project, branch string) string {
	return filepath.Join(p.Path, "laspad_"+branch+".zip")
}

// Package compiles p (unless Raw) and writes the result into a zip archive
// whose first entry is a .modinfo naming the branch.
func (e *Engine) Package(ctx context.Context, p *project.Project, opts PackageOptions) (*PackageResult, error) {
	if opts.Branch == "" {
		opts.Branch = project.DefaultBranch
	}
	branch, err := p.Branch(opts.Branch)
	if err != nil {
		return nil, err
	}
	if opts.Path == "" {
		opts.Path = ArchivePath(p, opts.Branch)
	}

	result := &PackageResult{Path: opts.Path, Branch: opts.Branch}
	if !opts.Raw {
		result.Compile, err = e.Compile(ctx, p)
		if err != nil {
			return result, fmt.Errorf("failed to compile project for packaging: %w", err)
		}
	}

	sink, err := archive.Create(opts.Path, archive.Options{
		ModInfo: project.ModInfo{Name: branch.Name},
		Logger:  e.logger,
	})
	if err != nil {
		return result, err
	}

	if opts.Raw {
		_, err = e.Merge(ctx, p, sink)
	} else {
		err = e.Archive(ctx, result.Compile.Output, sink)
	}
	if closeErr := sink.Close(); closeErr != nil {
		err = errors.Join(err, closeErr)
	}
	if err != nil {
		return result, fmt.Errorf("failed to create zip archive: %w", err)
	}

	result.Files = sink.Files()
	e.logger.Info("packaged", "path", opts.Path, "branch", opts.Branch, "files", result.Files, "raw", opts.Raw)
	return result, nil
}
