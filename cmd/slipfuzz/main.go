// slipfuzz drives a netplay session against a real opponent and fills it with seeded,
// fuzzed protocol messages.
package main

import (
	"fmt"
	"os"
)

const defaultLogLevel = "info"

func main() {
	rootCmd := runCmd()
	rootCmd.AddCommand(
		decodeCmd(),
		generateCmd(),
		historyCmd(),
		inspectCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
