// Command docrepo declares entities, derives their table schemas and
// inspects the document store behind typed repositories.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/roach88/docrepo/internal/cli"
)

func main() {
	err := cli.NewRootCommand().Execute()
	var exitErr *cli.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		// Flag and argument errors are not reported by the commands themselves.
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	os.Exit(cli.GetExitCode(err))
}
