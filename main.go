package main

import (
	"os"

	"github.com/reliefgrid/coordinator/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
