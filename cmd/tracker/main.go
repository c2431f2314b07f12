package main

import (
	"fmt"
	"os"

	"github.com/JonMunkholm/tracker/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.Execute(); err != nil {
		if msg := cli.UserError(err); msg != "" {
			fmt.Fprintln(os.Stderr, msg)
		}
		os.Exit(cli.GetExitCode(err))
	}
}
