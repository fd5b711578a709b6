package main

import (
	"os"

	"jobgrid/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
