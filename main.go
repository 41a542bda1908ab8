// The main package for the brand-monitor executable.
package main

import (
	"github.com/JakeFAU/brand-monitor/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
