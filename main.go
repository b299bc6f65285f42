package main

import (
	"os"

	"github.com/ncwatch/ncwatch/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
