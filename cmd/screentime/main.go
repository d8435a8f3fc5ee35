// Command screentime runs the usage-based reward core.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/screentime/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
