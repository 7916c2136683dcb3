// Package config loads laspad's tool settings.
//
// Tool settings say how laspad runs (tools, link policy, cache locations,
// uploader). They are separate from the project configuration in
// laspad.toml, which says what a mod consists of.
package config

import (
	"time"

	"github.com/leapstack-labs/laspad/internal/builder"
	"github.com/leapstack-labs/laspad/internal/engine"
	"github.com/leapstack-labs/laspad/internal/resolver"
	"github.com/leapstack-labs/laspad/internal/rules"
	"github.com/leapstack-labs/laspad/internal/state"
	"github.com/leapstack-labs/laspad/internal/watch"
	"github.com/leapstack-labs/laspad/internal/workshop"
)

// ToolsConfig locates the external build programs.
type ToolsConfig struct {
	Overview string `koanf:"overview" yaml:"overview"`
	Texture  string `koanf:"texture" yaml:"texture"`
}

// Rules returns the rule tools.
func (t ToolsConfig) Rules() rules.Tools {
	return rules.Tools{Overview: t.Overview, Texture: t.Texture}
}

// WorkshopConfig configures downloads and uploads.
type WorkshopConfig struct {
	DetailsURL  string        `koanf:"details_url" yaml:"details_url"`
	Concurrency int           `koanf:"concurrency" yaml:"concurrency"`
	Timeout     time.Duration `koanf:"timeout" yaml:"timeout"`
	// Uploader is the argv run by publish, with {placeholders}.
	Uploader []string `koanf:"uploader" yaml:"uploader"`
}

// WatchConfig configures the watch command.
type WatchConfig struct {
	Debounce time.Duration `koanf:"debounce" yaml:"debounce"`
	Ignore   []string      `koanf:"ignore" yaml:"ignore"`
}

// Config holds all CLI settings.
type Config struct {
	// ProjectRoot is inferred, never read from a source.
	ProjectRoot string `koanf:"-" yaml:"-"`

	OutputDir    string         `koanf:"output_dir" yaml:"output_dir"`
	CacheDir     string         `koanf:"cache_dir" yaml:"cache_dir"`
	StatePath    string         `koanf:"state_path" yaml:"state_path"`
	History      bool           `koanf:"history" yaml:"history"`
	Link         string         `koanf:"link" yaml:"link"`
	Collisions   string         `koanf:"collisions" yaml:"collisions"`
	Verbose      bool           `koanf:"verbose" yaml:"verbose"`
	OutputFormat string         `koanf:"output" yaml:"output"`
	Tools        ToolsConfig    `koanf:"tools" yaml:"tools"`
	Workshop     WorkshopConfig `koanf:"workshop" yaml:"workshop"`
	Watch        WatchConfig    `koanf:"watch" yaml:"watch"`
}

// Default configuration values.
const (
	DefaultOverviewTool = "Overview.exe"
	DefaultTextureTool  = "DDSCompiler.exe"
	DefaultOutput       = "auto"
	DefaultTimeout      = 5 * time.Minute
)

// Config file names looked up in the project root.
var configFileNames = []string{".laspad.yaml", ".laspad.yml", "laspad.yaml"}

func defaults() map[string]any {
	return map[string]any{
		"output_dir":           engine.DefaultOutputDir,
		"cache_dir":            resolver.DefaultCacheDir,
		"state_path":           state.DefaultPath,
		"history":              true,
		"link":                 string(builder.LinkPolicyAuto),
		"collisions":           string(builder.CollisionWarn),
		"verbose":              false,
		"output":               DefaultOutput,
		"tools.overview":       DefaultOverviewTool,
		"tools.texture":        DefaultTextureTool,
		"workshop.details_url": workshop.DefaultDetailsURL,
		"workshop.concurrency": workshop.DefaultConcurrency,
		"workshop.timeout":     DefaultTimeout.String(),
		"watch.debounce":       watch.DefaultDebounce.String(),
	}
}

// EngineConfig maps the settings onto an engine configuration.
func (c *Config) EngineConfig() engine.Config {
	cfg := engine.Config{
		Tools:      c.Tools.Rules(),
		LinkPolicy: builder.LinkPolicy(c.Link),
		Collisions: builder.CollisionPolicy(c.Collisions),
		OutputDir:  c.OutputDir,
		CacheDir:   c.CacheDir,
	}
	if c.History {
		cfg.StatePath = c.StatePath
	}
	return cfg
}
