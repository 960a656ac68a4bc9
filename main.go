// Package main is the entry point for the dqc application
package main

import (
	"github.com/ethpandaops/dqc/cmd"
)

func main() {
	cmd.Execute()
}
