// The main package for the forumharvest executable.
package main

import (
	"forumharvest/cmd"
)

// main defers all execution to the Cobra CLI library.
func main() {
	cmd.Execute()
}
