package main

import (
	"fmt"
	"os"
	"runtime/debug"

	"github.com/passbuild/passbuild/internal/cli"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "passbuild crashed: %v\n", r)
			if os.Getenv("PASS_DEBUG") != "" {
				debug.PrintStack()
			}
			os.Exit(2)
		}
	}()

	if err := cli.NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
