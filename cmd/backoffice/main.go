package main

import (
	"os"

	"github.com/delsolprime/backoffice/internal/cli"
)

// Version information - set during build
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	cli.SetVersionInfo(version, commit, date)

	// Errors are printed by cli.Execute
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
