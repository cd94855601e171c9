package bot

import (
	"context"
	"fmt"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// requestTimeout bounds the session work done for one message.
const requestTimeout = 30 * time.Second

type Bot struct {
	api     *tgbotapi.BotAPI
	handler *Handler
	timeout int
	logger  *zap.Logger
}

func New(token string, timeout int, handler *Handler, logger *zap.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}
	logger.Info("Authorized on Telegram", zap.String("username", api.Self.UserName))

	return &Bot{
		api:     api,
		handler: handler,
		timeout: timeout,
		logger:  logger,
	}, nil
}

// Start polls for updates until ctx is cancelled, then waits for messages
// in flight.
func (b *Bot) Start(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = b.timeout

	updates := b.api.GetUpdatesChan(u)

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if update.Message == nil {
				continue
			}

			wg.Add(1)
			go func(message *tgbotapi.Message) {
				defer wg.Done()
				b.handleMessage(ctx, message)
			}(update.Message)
		}
	}
}

func (b *Bot) handleMessage(ctx context.Context, message *tgbotapi.Message) {
	if message.From == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	var command, args string
	if message.IsCommand() {
		command = message.Command()
		args = message.CommandArguments()
	} else {
		// Get content from message
		args = message.Text
		if message.Caption != "" {
			args = message.Caption
		}
	}

	b.logger.Debug("Handling message",
		zap.Int64("user_id", message.From.ID),
		zap.String("command", command))

	reply := b.handler.Handle(ctx, message.From.ID, command, args)
	b.sendMessage(message.Chat.ID, message.MessageID, reply)
}

func (b *Bot) sendMessage(chatID int64, replyToID int, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdownV2
	msg.ReplyToMessageID = replyToID
	if _, err := b.api.Send(msg); err != nil {
		b.logger.Error("Failed to send message",
			zap.Error(err),
			zap.Int64("chat_id", chatID))
	}
}
