// The main package for the resmihaber executable.
package main

import (
	"github.com/JakeFAU/resmi-haber-crawler/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
