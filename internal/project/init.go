package project

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrAlreadyProject is returned by Init when the directory is already a project.
var ErrAlreadyProject = errors.New("this is already a laspad project")

// ExampleConfig is written by Init.
const ExampleConfig = `version = 1

# Workshop items merged before the project source, in order.
dependencies = []

[branch.master]
name = "My Mod"
tags = []
# description = "description.md"
# preview = "preview.jpg"
# website = "https://example.com"
`

// IgnoredPaths are appended to .gitignore by Init.
var IgnoredPaths = []string{"/compiled", "/.compiled.prev", "/.dependencies_steam", "/.laspad"}

// Init creates a project in dir: an example laspad.toml and the source
// directory. Inside a git repository the generated paths are ignored.
func Init(dir string) (*Project, error) {
	if HasConfig(dir) {
		return nil, ErrAlreadyProject
	}
	if err := os.WriteFile(filepath.Join(dir, ConfigFile), []byte(ExampleConfig), 0o600); err != nil {
		return nil, fmt.Errorf("could not create %s: %w", ConfigFile, err)
	}
	if err := os.MkdirAll(filepath.Join(dir, SourceDir), 0o750); err != nil {
		return nil, fmt.Errorf("could not create %s: %w", SourceDir, err)
	}

	p, err := Load(dir)
	if err != nil {
		return nil, err
	}
	if p.IsGitRepository() {
		if err := p.Ignore(IgnoredPaths...); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// Ignore appends patterns to the project's .gitignore.
func (p *Project) Ignore(patterns ...string) error {
	path := filepath.Join(p.Path, ".gitignore")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600) //nolint:gosec // fixed name in project root
	if err != nil {
		return fmt.Errorf("could not modify .gitignore: %w", err)
	}
	_, err = f.WriteString(strings.Join(patterns, "\n") + "\n")
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return fmt.Errorf("could not modify .gitignore: %w", err)
	}
	return nil
}

// Need declares item as a dependency in laspad.toml. It reports false when
// the item was already declared.
func (p *Project) Need(item ItemID) (bool, error) {
	if p.Config.Format() != FormatTOML {
		return false, fmt.Errorf("dependencies can only be added to %s, this project uses %s", ConfigFile, p.Config.Format())
	}
	path := filepath.Join(p.Path, ConfigFile)
	data, err := os.ReadFile(path)
	if err != nil {
		return false, fmt.Errorf("could not read %s: %w", ConfigFile, err)
	}
	out, added, err := AddDependency(data, item)
	if err != nil || !added {
		return false, err
	}
	if err := os.WriteFile(path, out, 0o600); err != nil {
		return false, fmt.Errorf("could not write %s: %w", ConfigFile, err)
	}

	cfg, err := ParseTOML(out)
	if err != nil {
		return false, err
	}
	p.Config = cfg
	return true, nil
}
