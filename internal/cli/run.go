package cli

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/postbox/internal/app"
	"github.com/roach88/postbox/internal/config"
	"github.com/roach88/postbox/internal/docstore"
)

// runFunc is a command body with a wired app and a session for its writes.
type runFunc func(ctx context.Context, a *app.App, sess docstore.Session, f *OutputFormatter) error

// withApp loads config, builds the app and runs fn under a context that is
// cancelled on SIGINT or SIGTERM.
func withApp(opts *RootOptions, cmd *cobra.Command, fn runFunc) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	cfg, err := config.Load(opts.Config, config.AllowMissing())
	if err != nil {
		return formatter.FailCode(ErrCodeConfig, "load config", err)
	}
	logger := cfg.NewLogger(opts.Verbose)

	a, err := app.New(cfg, logger, opts.AppOptions...)
	if err != nil {
		return formatter.FailCode(ErrCodeConfig, "initialize", err)
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			logger.Error("error closing store", "error", closeErr)
		}
	}()

	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	sess := a.Session()
	formatter.Session = sess.ID
	logger.Debug("session started", "session", sess.ID, "actor", sess.Actor, "command", cmd.Name())

	err = fn(ctx, a, sess, formatter)
	var exitErr *ExitError
	if err != nil && !errors.As(err, &exitErr) {
		return formatter.Fail(cmd.Name(), err)
	}
	return err
}

// usageError reports a bad argument as a command error.
func usageError(f *OutputFormatter, message string) error {
	_ = f.Error(ErrCodeUsage, message, nil)
	return NewExitError(ExitCommandError, message)
}
