// The main package for the crawlctl executable.
package main

import (
	"github.com/JakeFAU/crawlctl/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
