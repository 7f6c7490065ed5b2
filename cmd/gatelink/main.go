package main

import (
	"os"

	"github.com/storfleet/gatelink/internal/cli"
)

func main() {
	os.Exit(cli.Run(os.Args[1:]))
}
