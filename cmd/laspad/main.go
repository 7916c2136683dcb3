// Package main is the laspad command.
package main

import (
	"os"

	"github.com/leapstack-labs/laspad/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
