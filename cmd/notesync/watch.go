package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/xaenox/notesync/internal/feed"
	"go.uber.org/zap"
)

var watchCmd = &cobra.Command{
	Use:   "watch <owner-id>",
	Short: "Print an owner's change events as JSON lines",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		owner, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("owner id %q: %w", args[0], err)
		}

		cfg, logger, err := setup()
		if err != nil {
			return err
		}
		defer logger.Sync()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		deps, err := openBackend(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer deps.Close()

		out := cmd.OutOrStdout()
		sub, err := feed.Subscribe(ctx, deps.source, owner.String(), func(ev feed.Event) {
			payload, err := feed.Encode(ev)
			if err != nil {
				logger.Error("Failed to encode change event", zap.Error(err))
				return
			}
			fmt.Fprintln(out, string(payload))
		}, logger)
		if err != nil {
			return err
		}
		defer sub.Close()

		select {
		case <-ctx.Done():
		case <-sub.Done():
			logger.Warn("Change feed disconnected", zap.String("subscription_id", sub.ID()))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
}
