// Command notestream is the entry point for the notestream server and CLI.
package main

import (
	"fmt"
	"os"

	"github.com/MrWong99/notestream/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "notestream: %v\n", err)
		os.Exit(1)
	}
}
