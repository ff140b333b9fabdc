package main

import (
	"fmt"
	"os"

	"github.com/stator-io/stator/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "stator:", err)
		os.Exit(1)
	}
}
