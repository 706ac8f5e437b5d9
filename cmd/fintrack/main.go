package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"fintrack/internal/cli"
)

func main() {
	cli.LoadEnvFile()

	cmd := cli.NewRootCommand()
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		// ExitErrors have already been reported by the command.
		var exitErr *cli.ExitError
		if !errors.As(err, &exitErr) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(cli.GetExitCode(err))
	}
}
