// Package main is the entry point for the tradeq binary.
package main

import (
	"os"

	cli "trade-export/pkg/cli"
)

func main() {
	os.Exit(cli.Execute())
}
