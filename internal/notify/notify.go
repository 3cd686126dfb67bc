// Package notify delivers booking lifecycle messages to holders.
package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/MarkoPoloResearchLab/spacebook/pkg/booking"
	"go.uber.org/zap"
)

// HolderDirectory resolves holders to their notification addresses.
type HolderDirectory interface {
	GetHolder(ctx context.Context, holderID booking.HolderID) (booking.Holder, error)
}

// Multi fans a message out to several notifiers. Delivery succeeds when at
// least one sink accepted the message.
type Multi struct {
	notifiers []booking.Notifier
}

// NewMulti drops nil notifiers.
func NewMulti(notifiers ...booking.Notifier) *Multi {
	filtered := make([]booking.Notifier, 0, len(notifiers))
	for _, notifier := range notifiers {
		if notifier != nil {
			filtered = append(filtered, notifier)
		}
	}
	return &Multi{notifiers: filtered}
}

// Notify delivers to every sink. When all sinks fail and each reported an
// unreachable recipient, the result matches booking.ErrRecipientUnreachable.
func (multi *Multi) Notify(ctx context.Context, holderID booking.HolderID, message booking.Message) error {
	if len(multi.notifiers) == 0 {
		return fmt.Errorf("%w: no notifiers configured", booking.ErrDeliveryFailure)
	}
	var (
		failures    []error
		unreachable = true
	)
	for _, notifier := range multi.notifiers {
		err := notifier.Notify(ctx, holderID, message)
		if err == nil {
			return nil
		}
		if !errors.Is(err, booking.ErrRecipientUnreachable) {
			unreachable = false
		}
		failures = append(failures, err)
	}
	if unreachable {
		return fmt.Errorf("%w: %w", booking.ErrRecipientUnreachable, errors.Join(failures...))
	}
	return fmt.Errorf("%w: %v", booking.ErrDeliveryFailure, errors.Join(failures...))
}

// LogNotifier writes messages to the log instead of delivering them.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier returns a notifier suitable for development.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotifier{logger: logger}
}

// Notify always succeeds.
func (notifier *LogNotifier) Notify(_ context.Context, holderID booking.HolderID, message booking.Message) error {
	notifier.logger.Info("notification",
		zap.String("holder_id", holderID.String()),
		zap.String("kind", string(message.Kind)),
		zap.String("reservation_id", message.ReservationID.String()),
		zap.String("text", message.Text),
	)
	return nil
}
