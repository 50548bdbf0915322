package main

import (
	"os"

	"github.com/dshills/gauntlet/internal/cli"
)

func main() {
	os.Exit(cli.Run())
}
