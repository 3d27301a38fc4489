package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/webrender/webrender/cmd"
)

func main() {
	// Canceled on SIGINT/SIGTERM, which triggers a graceful shutdown.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := cmd.Execute(ctx)
	stop()
	if err != nil && !errors.Is(err, context.Canceled) {
		os.Exit(1)
	}
}
