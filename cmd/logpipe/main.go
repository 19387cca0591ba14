package main

import (
	"os"

	"logpipe/internal/cli"
)

// version can be set during build with -ldflags
var version = "dev"

func main() {
	os.Exit(cli.Execute(version))
}
