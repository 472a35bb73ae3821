// Command rig runs the receiving reconciliation worker and its maintenance tasks.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
)

func main() {
	// SIGINT / SIGTERM cancel the context; the worker finishes its current cycle first
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		log.Error().Err(err).Msg("rig: exited with error")
		os.Exit(1)
	}
}
