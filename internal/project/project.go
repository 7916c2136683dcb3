// Package project loads laspad projects and their configuration.
//
// A project is a directory holding one of laspad.toml, laspad.star or
// mod.settings. The first one found (in that order) is parsed once into a
// Config; callers never see which format it came from unless they ask.
package project

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Well-known project layout names.
const (
	DependenciesDir = "dependencies"
	SourceDir       = "src"
)

// maxUpwardSearchLevels limits how far Find climbs looking for a project root.
const maxUpwardSearchLevels = 10

// ErrNotProject is returned when a directory has no recognised configuration file.
var ErrNotProject = errors.New("not a laspad project")

// Project is a loaded project root.
type Project struct {
	Path   string
	Config *Config
}

// HasConfig reports whether dir contains any recognised configuration file.
func HasConfig(dir string) bool {
	for _, name := range []string{ConfigFile, ScriptFile, LegacyFile} {
		if _, err := os.Stat(filepath.Join(dir, name)); err == nil {
			return true
		}
	}
	return false
}

// Load reads the project rooted at dir.
// Returns ErrNotProject if no configuration file is present.
func Load(dir string) (*Project, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve project path %s: %w", dir, err)
	}

	cfg, err := loadConfig(abs)
	if err != nil {
		return nil, err
	}
	return &Project{Path: abs, Config: cfg}, nil
}

// Detect loads dir as a project if it is one. A directory without any
// configuration file returns (nil, nil).
func Detect(dir string) (*Project, error) {
	p, err := Load(dir)
	if errors.Is(err, ErrNotProject) {
		return nil, nil
	}
	return p, err
}

// Find searches upward from start for a project root.
func Find(start string) (*Project, error) {
	dir, err := filepath.Abs(start)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", start, err)
	}
	for i := 0; i < maxUpwardSearchLevels; i++ {
		if HasConfig(dir) {
			return Load(dir)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return nil, fmt.Errorf("%w: no %s, %s or %s found above %s", ErrNotProject, ConfigFile, ScriptFile, LegacyFile, start)
}

func loadConfig(dir string) (*Config, error) {
	data, err := os.ReadFile(filepath.Join(dir, ConfigFile))
	switch {
	case err == nil:
		return ParseTOML(data)
	case !errors.Is(err, os.ErrNotExist):
		return nil, fmt.Errorf("could not read %s: %w", ConfigFile, err)
	}

	scriptPath := filepath.Join(dir, ScriptFile)
	data, err = os.ReadFile(scriptPath)
	switch {
	case err == nil:
		return ParseStarlark(scriptPath, data)
	case !errors.Is(err, os.ErrNotExist):
		return nil, fmt.Errorf("could not read %s: %w", ScriptFile, err)
	}

	data, err = os.ReadFile(filepath.Join(dir, LegacyFile))
	switch {
	case err == nil:
		return ParseLegacy(string(data))
	case !errors.Is(err, os.ErrNotExist):
		return nil, fmt.Errorf("could not read %s: %w", LegacyFile, err)
	}

	return nil, fmt.Errorf("%w: %s", ErrNotProject, dir)
}

// DependenciesPath returns the local dependencies directory.
func (p *Project) DependenciesPath() string {
	return filepath.Join(p.Path, DependenciesDir)
}

// ItemPath returns the cache directory of a remote item under cacheDir.
// A relative cacheDir is resolved against the project root.
func (p *Project) ItemPath(cacheDir string, item ItemID) string {
	if !filepath.IsAbs(cacheDir) {
		cacheDir = filepath.Join(p.Path, cacheDir)
	}
	return filepath.Join(cacheDir, item.String())
}

// Branch returns the named branch, or an error listing what exists.
func (p *Project) Branch(name string) (Branch, error) {
	b, ok := p.Config.Branch(name)
	if !ok {
		return Branch{}, fmt.Errorf("branch %q does not exist in %s (available: %v)", name, p.Config.Format(), p.Config.Branches())
	}
	return b, nil
}
