// The main package for the topicscraper executable.
package main

import (
	"github.com/iantaiahn/topicscraper/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
