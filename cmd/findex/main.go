package main

import (
	"os"

	"github.com/wonny/findex/cmd/findex/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
