// Package main provides the mapfold command-line client.
package main

import (
	"os"

	"github.com/lindqvist/mapfold/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
