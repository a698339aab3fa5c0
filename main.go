// The main package for the shelfminer executable.
package main

import (
	"github.com/shelfminer/shelfminer/cmd"
)

func main() {
	cmd.Execute()
}
