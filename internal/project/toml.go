package project

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// tomlV1 is the layout of a version 1 laspad.toml.
type tomlV1 struct {
	Version      int               `toml:"version"`
	Dependencies []ItemID          `toml:"dependencies"`
	Branch       map[string]Branch `toml:"branch"`
	SourceDir    string            `toml:"source_dir"`
	OutputDir    string            `toml:"output_dir"`
}

// ParseTOML parses a laspad.toml document.
//
// Version 0 (or no version key) treats every top-level table as a branch.
// Version 1 carries a dependencies array, a branch table and an optional
// source_dir/output_dir override.
func ParseTOML(data []byte) (*Config, error) {
	var raw map[string]any
	if err := toml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("could not parse %s: %w", ConfigFile, err)
	}

	version := int64(0)
	if v, ok := raw["version"]; ok {
		n, ok := v.(int64)
		if !ok {
			return nil, fmt.Errorf("could not parse %s: version must be an integer", ConfigFile)
		}
		version = n
	}

	switch version {
	case 0:
		delete(raw, "version")
		// Round-trip the remaining tables so each decodes with Branch's tags.
		rest, err := toml.Marshal(raw)
		if err != nil {
			return nil, fmt.Errorf("could not parse %s: %w", ConfigFile, err)
		}
		branches := map[string]Branch{}
		if err := toml.Unmarshal(rest, &branches); err != nil {
			return nil, fmt.Errorf("could not parse %s branches: %w", ConfigFile, err)
		}
		return &Config{format: FormatTOML, branches: branches}, nil

	case 1:
		var doc tomlV1
		dec := toml.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&doc); err != nil {
			var strict *toml.StrictMissingError
			if errors.As(err, &strict) {
				keys := make([]string, 0, len(strict.Errors))
				for _, e := range strict.Errors {
					keys = append(keys, strings.Join(e.Key(), "."))
				}
				return nil, fmt.Errorf("could not parse %s: unknown keys: %s", ConfigFile, strings.Join(keys, ", "))
			}
			return nil, fmt.Errorf("could not parse %s: %w", ConfigFile, err)
		}
		if doc.Branch == nil {
			return nil, fmt.Errorf("could not parse %s: expected key branch of type table", ConfigFile)
		}
		cfg := &Config{
			format:   FormatTOML,
			deps:     doc.Dependencies,
			branches: doc.Branch,
		}
		if doc.SourceDir != "" || doc.OutputDir != "" {
			cfg.override = &SourceOverride{SourceDir: doc.SourceDir, OutputDir: doc.OutputDir}
		}
		return cfg, nil

	default:
		return nil, fmt.Errorf("could not parse %s: %d is not a valid version", ConfigFile, version)
	}
}

// AddDependency appends an item to the dependencies array of a version 1 laspad.toml.
// It returns the rewritten document and false when the item is already present.
func AddDependency(data []byte, item ItemID) ([]byte, bool, error) {
	var raw map[string]any
	if err := toml.Unmarshal(data, &raw); err != nil {
		return nil, false, fmt.Errorf("could not parse %s: %w", ConfigFile, err)
	}
	if v, _ := raw["version"].(int64); v != 1 {
		return nil, false, fmt.Errorf("%s must be version 1 to declare dependencies", ConfigFile)
	}

	var deps []any
	if existing, ok := raw["dependencies"]; ok {
		list, ok := existing.([]any)
		if !ok {
			return nil, false, fmt.Errorf("%s: dependencies must be an array", ConfigFile)
		}
		for _, d := range list {
			s, _ := d.(string)
			if id, err := ParseItemID(s); err == nil && id == item {
				return data, false, nil
			}
		}
		deps = list
	}
	raw["dependencies"] = append(deps, item.String())

	out, err := toml.Marshal(raw)
	if err != nil {
		return nil, false, fmt.Errorf("could not write %s: %w", ConfigFile, err)
	}
	return out, true, nil
}
