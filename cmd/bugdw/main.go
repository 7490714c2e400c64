// Command bugdw loads bug tracker CSV snapshots into an SCD2 star schema.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/bugdw/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
