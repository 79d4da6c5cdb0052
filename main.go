package main

import (
	"os"

	"github.com/adalundhe/tremor/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
