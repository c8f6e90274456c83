// Command keyrx compiles keyboard remapping profiles and runs key events
// through them.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/roach88/keyrx/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		// Commands that already reported the error in the requested format
		// return a bare ExitError; print everything else.
		if !cli.Reported(err) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(cli.GetExitCode(err))
	}
}
