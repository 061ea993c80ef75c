// The main package for the archive-ingest executable.
package main

import (
	"github.com/JakeFAU/archive-ingest/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
