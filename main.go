// The main package for the vidharvest executable.
package main

import (
	"github.com/crossinglab/vidharvest/cmd"
)

// main is the entry point of the application.
// It defers all execution to the Cobra CLI library.
func main() {
	cmd.Execute()
}
