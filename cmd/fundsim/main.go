// Command fundsim runs liquidity funds against a simulated concentrated-liquidity venue:
// it scripts scenarios, serves fund state over JSON-RPC and follows fund event streams.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
