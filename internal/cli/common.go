package cli

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/tracker/internal/config"
	"github.com/JonMunkholm/tracker/internal/store"
)

// signalContext derives a context from the command's that is cancelled on
// SIGINT or SIGTERM. Tests drive cancellation through cmd.SetContext.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// openStore opens the configured engine. A missing DATABASE_URL is a
// configuration error; anything else is a storage failure.
func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	st, err := store.Open(ctx, cfg.Database)
	if errors.Is(err, config.ErrNoDatabase) {
		return nil, WrapExitError(ExitCommandError, "no database configured", err)
	}
	if err != nil {
		return nil, WrapExitError(ExitFailure, "failed to open store", err)
	}
	return st, nil
}
