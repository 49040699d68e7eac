// The main package for the rankyak executable.
package main

import (
	"github.com/JakeFAU/rankyak-pipeline/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
