// Package main provides the entry point for the blogsearchd CLI.
package main

import (
	"os"

	"github.com/inkpress/blogsearch/cmd/blogsearchd/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
