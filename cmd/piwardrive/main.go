// Package main is the single-binary entrypoint for PiWardrive.
package main

import "github.com/piwardrive/piwardrive/internal/cli"

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	cli.Execute(version)
}
