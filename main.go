package main

import (
	"os"

	"github.com/adalundhe/aser/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
