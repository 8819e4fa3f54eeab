package main

import (
	"os"

	"github.com/jellyroller/jellyroller/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
