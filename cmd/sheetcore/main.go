package main

import (
	"os"

	"sheetcore/cmd/sheetcore/internal/command"
)

func main() {
	if err := command.Execute(); err != nil {
		os.Exit(1)
	}
}
