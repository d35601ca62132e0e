// Command changeling applies and rolls back migration changelogs.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/roach88/changeling/internal/cli"
)

func main() {
	err := cli.NewRootCommand().Execute()
	if err != nil {
		// Commands report their own failures; anything else (unknown
		// command, bad flags) is printed here.
		var exitErr *cli.ExitError
		if !errors.As(err, &exitErr) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
	}
	os.Exit(cli.GetExitCode(err))
}
