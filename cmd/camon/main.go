// Package main is the entry point for the camon application.
package main

import (
	"os"

	"github.com/camon/camon/cmd/camon/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
