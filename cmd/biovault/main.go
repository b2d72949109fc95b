package main

import (
	"os"

	"github.com/tobiasvik/biovault/internal/cli"
	"github.com/tobiasvik/biovault/internal/version"
)

func main() {
	cmd := cli.NewRootCommand(os.Stdout, cli.BuildInfo{
		Version:   version.Version,
		Commit:    version.Commit,
		BuildTime: version.BuildTime,
	})
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
