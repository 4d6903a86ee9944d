// cmd/genbench/main.go
package main

import (
	"os"

	cmd "github.com/mwiater/genbench/internal/cli"
)

// Set by the linker.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var (
	setVersionInfo = cmd.SetVersionInfo
	executeCmd     = cmd.Execute
	exit           = os.Exit
)

// main starts the genbench CLI application by delegating to the cobra root
// command and exits with its status code.
func main() {
	setVersionInfo(version, commit, date)
	exit(executeCmd())
}
