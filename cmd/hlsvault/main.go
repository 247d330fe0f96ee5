// Package main is the entry point for the hlsvault application.
package main

import (
	"os"

	"github.com/hlsvault/hlsvault/cmd/hlsvault/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
