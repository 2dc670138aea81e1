// Package main is the entry point of the nexus CLI.
package main

import (
	"os"

	"github.com/nullvektordom/nexus-cli-sub000/cmd/nexus/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
