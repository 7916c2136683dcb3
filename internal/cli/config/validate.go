package config

import (
	"fmt"
	"slices"

	"github.com/leapstack-labs/laspad/internal/builder"
)

var outputFormats = []string{"auto", "text", "markdown", "json"}

// Validate checks settings that would otherwise fail deep inside a command.
func (c *Config) Validate() error {
	if _, err := builder.NewLinker(builder.LinkPolicy(c.Link), nil); err != nil {
		return err
	}
	if _, err := builder.ParseCollisionPolicy(c.Collisions); err != nil {
		return err
	}
	if c.OutputDir == "" {
		return fmt.Errorf("output_dir is required")
	}
	if c.Workshop.Concurrency < 1 {
		return fmt.Errorf("workshop.concurrency must be at least 1, got %d", c.Workshop.Concurrency)
	}
	if c.OutputFormat != "" && !slices.Contains(outputFormats, c.OutputFormat) {
		return fmt.Errorf("unknown output format %q (expected one of %v)", c.OutputFormat, outputFormats)
	}
	return nil
}
