// Command hera is the operator CLI for the HERA engine.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/hera/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.GetExitCode(err))
	}
}
