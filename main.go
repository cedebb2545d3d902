// Package main is the entry point for the zwiftmon traffic decoder.
package main

import (
	"fmt"
	"os"

	"firestige.xyz/zwiftmon/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
