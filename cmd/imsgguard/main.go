package main

import (
	"os"

	"github.com/imsgguard/imsg-guard/cmd/imsgguard/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
