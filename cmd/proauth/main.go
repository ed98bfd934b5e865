package main

import (
	"os"

	"github.com/hasirciogli/pro-auth/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
