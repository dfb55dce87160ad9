// Command postbox moves messages from a Telegram inbox through review into
// published posts.
package main

import (
	"os"

	"github.com/roach88/postbox/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		os.Exit(cli.GetExitCode(err))
	}
}
