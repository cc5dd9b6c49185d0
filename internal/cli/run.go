package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/draftkeep/internal/broadcast"
	"github.com/roach88/draftkeep/internal/canonical"
	"github.com/roach88/draftkeep/internal/config"
	"github.com/roach88/draftkeep/internal/integrity"
	"github.com/roach88/draftkeep/internal/store"
)

// env is what a command needs to talk to local storage.
type env struct {
	cfg     *config.Config
	logger  *slog.Logger
	backend *store.SQLite
	store   *integrity.Store
}

// newLogger configures logging based on the verbose flag. Logs go to w,
// normally stderr, so they never mix with command output.
func newLogger(opts *RootOptions, w io.Writer) *slog.Logger {
	logLevel := slog.LevelWarn
	if opts.Verbose {
		logLevel = slog.LevelDebug
	}
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: logLevel,
	})
	return slog.New(handler)
}

// loadConfig reads the configuration named by --config, or the defaults.
func loadConfig(opts *RootOptions) (*config.Config, error) {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	return cfg, nil
}

// openEnv loads the configuration and opens the database it names.
// The caller must call close.
func openEnv(cmd *cobra.Command, opts *RootOptions) (*env, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	logger := newLogger(opts, cmd.ErrOrStderr())

	logger.Debug("opening database", "path", cfg.Database, "quota", cfg.QuotaBytes)
	backend, err := store.Open(cfg.Database, store.WithQuota(cfg.QuotaBytes))
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}

	return &env{
		cfg:     cfg,
		logger:  logger,
		backend: backend,
		store: integrity.New(backend,
			integrity.WithLogger(logger),
			integrity.WithDraftMaxAge(cfg.DraftMaxAge),
		),
	}, nil
}

func (e *env) close() {
	if err := e.backend.Close(); err != nil {
		e.logger.Error("error closing database", "error", err)
	}
}

// openChannel opens the shared message directory from the configuration.
func (e *env) openChannel(instance string) (*broadcast.DirChannel, error) {
	opts := []broadcast.DirOption{
		broadcast.WithTTL(e.cfg.ChannelTTL),
		broadcast.WithDirLogger(e.logger),
	}
	if instance != "" {
		opts = append(opts, broadcast.WithInstance(instance))
	}
	ch, err := broadcast.OpenDir(e.cfg.ChannelDir, opts...)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open channel", err)
	}
	return ch, nil
}

// signalContext returns a context cancelled on SIGINT/SIGTERM or when the
// command's own context ends.
func signalContext(cmd *cobra.Command, logger *slog.Logger) (context.Context, context.CancelFunc) {
	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigChan) // Prevent signal handler leak
		select {
		case sig := <-sigChan:
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
			// Parent context cancelled (e.g., from test)
		}
	}()
	return ctx, cancel
}

// readDocument reads a JSON document from path, keeping numbers exact.
func readDocument(path string) (any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to read document", err)
	}
	doc, err := canonical.Decode(data)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, fmt.Sprintf("%s is not valid JSON", path), err)
	}
	return doc, nil
}

// decodePayload turns a verified record payload into a printable value.
func decodePayload(raw json.RawMessage) any {
	v, err := canonical.Decode(raw)
	if err != nil {
		return string(raw)
	}
	return v
}
