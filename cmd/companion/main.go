// Package main provides the entry point for the companion terminal client.
package main

import (
	"fmt"
	"os"

	"github.com/ashureev/campus-companion/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
