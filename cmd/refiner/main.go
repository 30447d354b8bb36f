// cmd/refiner/main.go
package main

import (
	"os"

	cmd "github.com/mwiater/refiner/internal/cli"
)

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

// main starts the refiner CLI by delegating to the cobra root command. Build
// metadata is injected with -ldflags "-X main.version=...".
func main() {
	setVersionInfo(version, commit, date)
	if err := executeCmd(); err != nil {
		exit(1)
	}
}
