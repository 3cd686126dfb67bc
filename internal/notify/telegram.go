package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/MarkoPoloResearchLab/spacebook/pkg/booking"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

type messageSender interface {
	Send(chattable tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramNotifier sends messages to the chat linked to a holder.
type TelegramNotifier struct {
	sender  messageSender
	holders HolderDirectory
	logger  *zap.Logger
}

// NewTelegramNotifier connects to the Bot API with token.
func NewTelegramNotifier(token string, holders HolderDirectory, logger *zap.Logger) (*TelegramNotifier, error) {
	if token == "" {
		return nil, errors.New("telegram bot token is empty")
	}
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return newTelegramNotifier(bot, holders, logger)
}

func newTelegramNotifier(sender messageSender, holders HolderDirectory, logger *zap.Logger) (*TelegramNotifier, error) {
	if sender == nil {
		return nil, errors.New("telegram sender is nil")
	}
	if holders == nil {
		return nil, errors.New("holder directory is nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TelegramNotifier{sender: sender, holders: holders, logger: logger}, nil
}

// Notify sends the message text to the holder's chat.
func (notifier *TelegramNotifier) Notify(ctx context.Context, holderID booking.HolderID, message booking.Message) error {
	holder, err := notifier.holders.GetHolder(ctx, holderID)
	if errors.Is(err, booking.ErrUnknownHolder) {
		return fmt.Errorf("%w: holder %s is not registered", booking.ErrRecipientUnreachable, holderID)
	}
	if err != nil {
		return fmt.Errorf("%w: holder lookup: %w", booking.ErrDeliveryFailure, err)
	}
	if !holder.HasNotificationAddress() {
		notifier.logger.Debug("notification skipped (no chat_id)", zap.String("holder_id", holderID.String()))
		return fmt.Errorf("%w: holder %s has no telegram chat", booking.ErrRecipientUnreachable, holderID)
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", booking.ErrDeliveryFailure, err)
	}
	if _, err := notifier.sender.Send(tgbotapi.NewMessage(holder.TelegramChatID, message.Text)); err != nil {
		notifier.logger.Error("failed to send telegram notification",
			zap.Int64("chat_id", holder.TelegramChatID),
			zap.Error(err),
		)
		return fmt.Errorf("%w: telegram: %w", booking.ErrDeliveryFailure, err)
	}
	return nil
}
