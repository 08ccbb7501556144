package main

import (
	"os"

	"github.com/haulbook-dev/haulbook/internal/commands"
)

func main() {
	if err := commands.NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
