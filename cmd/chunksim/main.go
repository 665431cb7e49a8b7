// Package main is the entry point for the chunksim application.
package main

import (
	"os"

	"github.com/jmylchreest/chunkstream/cmd/chunksim/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
