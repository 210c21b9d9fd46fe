package main

import (
	"os"

	"github.com/irdetect/autoannotate/cmd"
	"github.com/irdetect/autoannotate/internal/buildinfo"
)

// Set with -ldflags "-X main.version=... -X main.buildDate=..."
var (
	version   string
	buildDate string
)

func main() {
	build := buildinfo.NewContext(version, buildDate)
	if err := cmd.RootCommand(build).Execute(); err != nil {
		os.Exit(1)
	}
}
