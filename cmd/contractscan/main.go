// Package main is the entry point for the contractscan binary.
// It scans local contract documents for personal data and prints reports,
// masked text or anonymized text without sending anything over the network.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()

	var thresholdErr *thresholdError
	switch {
	case err == nil:
	case errors.As(err, &thresholdErr):
		fmt.Fprintln(os.Stderr, thresholdErr.Error())
		os.Exit(3)
	default:
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
