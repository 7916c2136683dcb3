package project

import (
	"maps"
	"slices"
)

// Config file names recognised in a project root, in lookup order.
const (
	ConfigFile = "laspad.toml"
	ScriptFile = "laspad.star"
	LegacyFile = "mod.settings"
)

// DefaultBranch is the branch used when none is requested.
const DefaultBranch = "master"

// Format identifies which configuration source a Config was loaded from.
type Format int

// Supported configuration formats.
const (
	FormatTOML Format = iota
	FormatStarlark
	FormatLegacy
)

// String returns the file name that carries the format.
func (f Format) String() string {
	switch f {
	case FormatTOML:
		return ConfigFile
	case FormatStarlark:
		return ScriptFile
	case FormatLegacy:
		return LegacyFile
	default:
		return "unknown"
	}
}

// Branch holds publish metadata for one named release channel.
type Branch struct {
	Name            string   `toml:"name"`
	Tags            []string `toml:"tags"`
	AutoDescription *bool    `toml:"autodescription,omitempty"`
	Description     string   `toml:"description,omitempty"`
	DescriptionText string   `toml:"description_str,omitempty"`
	Preview         string   `toml:"preview,omitempty"`
	Website         string   `toml:"website,omitempty"`
	Item            *ItemID  `toml:"item,omitempty"`
}

// WantsAutoDescription reports whether the generated header should be prepended.
// Defaults to true when unset.
func (b Branch) WantsAutoDescription() bool {
	return b.AutoDescription == nil || *b.AutoDescription
}

// SourceOverride names explicit source and output directories relative to the project root.
type SourceOverride struct {
	SourceDir string
	OutputDir string
}

// Config is a project configuration, resolved once at load regardless of format.
type Config struct {
	format   Format
	deps     []ItemID
	branches map[string]Branch
	override *SourceOverride
}

// Format returns the source format the config was read from.
func (c *Config) Format() Format {
	return c.format
}

// Dependencies returns the remote items in declaration order.
func (c *Config) Dependencies() []ItemID {
	return slices.Clone(c.deps)
}

// Branch returns the named branch.
func (c *Config) Branch(name string) (Branch, bool) {
	b, ok := c.branches[name]
	return b, ok
}

// Branches returns the sorted branch names.
func (c *Config) Branches() []string {
	return slices.Sorted(maps.Keys(c.branches))
}

// SourceOverride returns the explicit source/output directories, or nil.
func (c *Config) SourceOverride() *SourceOverride {
	if c.override == nil {
		return nil
	}
	o := *c.override
	return &o
}
