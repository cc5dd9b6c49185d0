package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/draftkeep/internal/broadcast"
	"github.com/roach88/draftkeep/internal/config"
)

// WatchOptions holds flags for the watch command.
type WatchOptions struct {
	*RootOptions
	ID string // only show messages for this document
}

// NewWatchCommand creates the watch command.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WatchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print messages exchanged by editing sessions",
		Long: `Print every OPENED and SAVED message published by editing sessions
through the configured channel directory until interrupted.

Examples:
  draftkeep watch
  draftkeep watch --id 42 --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.ID, "id", "", "only show messages for this document id")

	return cmd
}

// WatchEvent is one printed message.
type WatchEvent struct {
	broadcast.Message
}

func (w WatchEvent) String() string {
	at := time.UnixMilli(w.SentAt).UTC().Format(time.RFC3339)
	return fmt.Sprintf("%s %s %s from %s", at, w.Type, w.ID, w.Origin)
}

func runWatch(opts *WatchOptions, cmd *cobra.Command) error {
	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return err
	}
	logger := newLogger(opts.RootOptions, cmd.ErrOrStderr())

	// No database is needed, only the channel.
	e := &env{cfg: cfg, logger: logger}
	ch, err := e.openChannel("")
	if err != nil {
		return err
	}
	defer ch.Close()

	ctx, cancel := signalContext(cmd, logger)
	defer cancel()

	out := newFormatter(cmd, opts.RootOptions)
	unsubscribe := ch.Subscribe(func(m broadcast.Message) {
		if opts.ID != "" && m.ID != opts.ID {
			return
		}
		_ = out.Success(WatchEvent{Message: m})
	})
	defer unsubscribe()

	out.VerboseLog("watching %s", describeChannel(cfg))
	<-ctx.Done()
	return nil
}

func describeChannel(cfg *config.Config) string {
	return fmt.Sprintf("%s (ttl %s)", cfg.ChannelDir, cfg.ChannelTTL)
}
