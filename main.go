package main

import (
	"os"

	"github.com/openfront-platform/openfront-oauth/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
