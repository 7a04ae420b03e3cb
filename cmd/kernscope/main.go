package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"kernscope/internal/errors"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	cli.close()

	if err != nil {
		// Timeouts already printed their partial result and a warning.
		if !errors.IsCode(err, errors.Timeout) {
			printError(os.Stderr, err)
		}
		os.Exit(exitCode(err))
	}
}

// exitCode is 2 for a partial result and 1 for any other failure.
func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.IsCode(err, errors.Timeout):
		return 2
	default:
		return 1
	}
}

// printError writes err with its suggested fixes and follow-up queries.
func printError(w io.Writer, err error) {
	fmt.Fprintf(w, "Error: %v\n", err)

	var ke *errors.KernError
	if !asKernError(err, &ke) {
		return
	}
	for _, fix := range ke.SuggestedFixes {
		fmt.Fprintf(w, "  hint: %s\n", fix.Description)
		if fix.Command != "" {
			fmt.Fprintf(w, "    $ %s\n", fix.Command)
		}
	}
	for _, d := range ke.Drilldowns {
		fmt.Fprintf(w, "  next: %s\n    $ kernscope %s\n", d.Label, d.Query)
	}
}
