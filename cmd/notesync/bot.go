package main

import (
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/xaenox/notesync/internal/bot"
	"github.com/xaenox/notesync/internal/session"
	"go.uber.org/zap"
)

var botCmd = &cobra.Command{
	Use:   "bot",
	Short: "Serve notes over Telegram",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := setup()
		if err != nil {
			return err
		}
		defer logger.Sync()

		if cfg.Telegram.Token == "" {
			return errors.New("telegram token is not set (TELEGRAM_TOKEN or telegram.token)")
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		deps, err := openBackend(ctx, cfg, logger)
		if err != nil {
			logger.Error("Failed to initialize storage", zap.Error(err))
			return err
		}
		defer deps.Close()

		sessions := session.NewManager(deps.store, deps.source, logger)
		defer func() {
			if err := sessions.Close(); err != nil {
				logger.Warn("Failed to close sessions", zap.Error(err))
			}
		}()

		b, err := bot.New(cfg.Telegram.Token, cfg.Telegram.Timeout, bot.NewHandler(sessions, logger), logger)
		if err != nil {
			return err
		}

		logger.Info("Bot started")
		err = b.Start(ctx)
		logger.Info("Bot stopped", zap.Int("sessions", sessions.Active()))
		return err
	},
}

func init() {
	rootCmd.AddCommand(botCmd)
}
