// Package main is the entry point of the abrplay player.
package main

import (
	"os"

	"github.com/jdeisenh/abrplay/cmd/abrplay/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
