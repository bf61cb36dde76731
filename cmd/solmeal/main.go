// Command solmeal groups campus users into meal groups on a schedule and
// serves lookups against the live grouping.
package main

import (
	"os"

	"github.com/roach88/solmeal/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		os.Exit(cli.GetExitCode(err))
	}
}
