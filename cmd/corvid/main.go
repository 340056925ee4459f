package main

import (
	"os"

	"github.com/corvid-agent/corvid/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
