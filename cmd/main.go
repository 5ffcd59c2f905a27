package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/desertthunder/agx/internal/dispatch"
	"github.com/desertthunder/agx/internal/shared"
)

func main() {
	logger := shared.NewLogger(nil)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runner := NewRunner(RunnerOpts{Logger: logger})
	err := runner.app().Run(ctx, os.Args)
	runner.Close()

	switch {
	case err == nil:
	case dispatch.IsUnauthorized(err):
		fmt.Fprintf(os.Stderr, "✗ %v\nRun 'agx auth login', or 'agx auth setup' on a new backend.\n", err)
		os.Exit(1)
	case errors.Is(err, shared.ErrNotImplemented):
		logger.Warn("not implemented")
		os.Exit(0)
	default:
		logger.Fatalf("application error: %v", err)
	}
}
