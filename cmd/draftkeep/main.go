// Command draftkeep stores document drafts with integrity checks and runs
// interactive or scripted editing sessions against them.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/draftkeep/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.GetExitCode(err))
	}
}
