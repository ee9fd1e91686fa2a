package main

import (
	"os"

	"github.com/memctx/memctx/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
