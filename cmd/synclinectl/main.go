package main

import (
	"os"

	"github.com/syncline-io/syncline/cmd/synclinectl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
