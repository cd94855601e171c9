package main

import (
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/xaenox/notesync/internal/feed"
)

var relayCmd = &cobra.Command{
	Use:   "relay",
	Short: "Republish database change notifications to Redis",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := setup()
		if err != nil {
			return err
		}
		defer logger.Sync()

		if cfg.Database.UseInMemory || cfg.Redis.URL == "" {
			return errors.New("relay needs a PostgreSQL database and redis.url")
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		client, err := feed.NewRedisClient(cfg.Redis.URL)
		if err != nil {
			return err
		}
		defer client.Close()

		relay := feed.NewRelay(client, logger)
		return relay.Listen(ctx, cfg.Database.DSN(), cfg.Feed.MinReconnect, cfg.Feed.MaxReconnect)
	},
}

func init() {
	rootCmd.AddCommand(relayCmd)
}
