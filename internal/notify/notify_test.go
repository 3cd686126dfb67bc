package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/MarkoPoloResearchLab/spacebook/pkg/booking"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type mockSender struct {
	mock.Mock
}

func (sender *mockSender) Send(chattable tgbotapi.Chattable) (tgbotapi.Message, error) {
	arguments := sender.Called(chattable)
	return tgbotapi.Message{}, arguments.Error(0)
}

type mapDirectory map[booking.HolderID]booking.Holder

func (directory mapDirectory) GetHolder(_ context.Context, holderID booking.HolderID) (booking.Holder, error) {
	holder, ok := directory[holderID]
	if !ok {
		return booking.Holder{}, booking.ErrUnknownHolder
	}
	return holder, nil
}

type recordingChannel struct {
	exchange   string
	key        string
	publishing amqp.Publishing
	err        error
	closed     bool
}

func (channel *recordingChannel) PublishWithContext(_ context.Context, exchange string, key string, _ bool, _ bool, msg amqp.Publishing) error {
	channel.exchange = exchange
	channel.key = key
	channel.publishing = msg
	return channel.err
}

func (channel *recordingChannel) Close() error {
	channel.closed = true
	return nil
}

type funcNotifier func(ctx context.Context, holderID booking.HolderID, message booking.Message) error

func (fn funcNotifier) Notify(ctx context.Context, holderID booking.HolderID, message booking.Message) error {
	return fn(ctx, holderID, message)
}

func mustHolderID(test *testing.T, raw string) booking.HolderID {
	test.Helper()
	holderID, err := booking.NewHolderID(raw)
	require.NoError(test, err)
	return holderID
}

func sampleMessage(test *testing.T) booking.Message {
	test.Helper()
	date, err := booking.NewDate("2025-03-10")
	require.NoError(test, err)
	slot, err := booking.NewSlot(date, 36000, 39600)
	require.NoError(test, err)
	resourceID, err := booking.NewResourceID("room-a")
	require.NoError(test, err)
	return booking.Message{
		Kind:          booking.NotificationStartsSoon,
		ReservationID: booking.GenerateReservationID(),
		ResourceID:    resourceID,
		ResourceName:  "Blue Room",
		Slot:          slot,
		Text:          "Your reservation of Blue Room starts in 15 minutes (10:00-11:00).",
	}
}

func TestTelegramNotifierSendsToLinkedChat(test *testing.T) {
	test.Parallel()
	alice := mustHolderID(test, "alice")
	sender := &mockSender{}
	message := sampleMessage(test)
	sender.On("Send", mock.MatchedBy(func(chattable tgbotapi.Chattable) bool {
		config, ok := chattable.(tgbotapi.MessageConfig)
		return ok && config.ChatID == 4242 && config.Text == message.Text
	})).Return(nil).Once()
	notifier, err := newTelegramNotifier(sender, mapDirectory{alice: {ID: alice, TelegramChatID: 4242}}, zap.NewNop())
	require.NoError(test, err)

	require.NoError(test, notifier.Notify(context.Background(), alice, message))
	sender.AssertExpectations(test)
}

func TestTelegramNotifierReportsUnreachableHolders(test *testing.T) {
	test.Parallel()
	alice := mustHolderID(test, "alice")
	sender := &mockSender{}
	notifier, err := newTelegramNotifier(sender, mapDirectory{alice: {ID: alice}}, zap.NewNop())
	require.NoError(test, err)

	err = notifier.Notify(context.Background(), alice, sampleMessage(test))
	require.ErrorIs(test, err, booking.ErrRecipientUnreachable)
	err = notifier.Notify(context.Background(), mustHolderID(test, "ghost"), sampleMessage(test))
	require.ErrorIs(test, err, booking.ErrRecipientUnreachable)
	sender.AssertNotCalled(test, "Send", mock.Anything)
}

func TestTelegramNotifierWrapsSendFailures(test *testing.T) {
	test.Parallel()
	alice := mustHolderID(test, "alice")
	sender := &mockSender{}
	sender.On("Send", mock.Anything).Return(errors.New("bad gateway")).Once()
	notifier, err := newTelegramNotifier(sender, mapDirectory{alice: {ID: alice, TelegramChatID: 1}}, zap.NewNop())
	require.NoError(test, err)

	err = notifier.Notify(context.Background(), alice, sampleMessage(test))
	require.ErrorIs(test, err, booking.ErrDeliveryFailure)
	assert.NotErrorIs(test, err, booking.ErrRecipientUnreachable)
}

func TestAMQPPublisherPublishesPersistentJSON(test *testing.T) {
	test.Parallel()
	channel := &recordingChannel{}
	publishedAt := time.Date(2025, 3, 10, 9, 45, 0, 0, time.UTC)
	publisher := newAMQPPublisher(channel, DefaultQueue, func() time.Time { return publishedAt })
	message := sampleMessage(test)

	require.NoError(test, publisher.Notify(context.Background(), mustHolderID(test, "alice"), message))
	assert.Equal(test, "", channel.exchange)
	assert.Equal(test, DefaultQueue, channel.key)
	assert.Equal(test, amqp.Persistent, channel.publishing.DeliveryMode)
	assert.Equal(test, "application/json", channel.publishing.ContentType)

	var event Event
	require.NoError(test, json.Unmarshal(channel.publishing.Body, &event))
	assert.Equal(test, "alice", event.HolderID)
	assert.Equal(test, "starts_soon", event.Kind)
	assert.Equal(test, "2025-03-10", event.Date)
	assert.Equal(test, 36000, event.StartSecond)
	assert.Equal(test, "2025-03-10T09:45:00Z", event.PublishedAt)

	require.NoError(test, publisher.Close())
	assert.True(test, channel.closed)
}

func TestAMQPPublisherWrapsPublishErrors(test *testing.T) {
	test.Parallel()
	channel := &recordingChannel{err: errors.New("channel closed")}
	publisher := newAMQPPublisher(channel, DefaultQueue, time.Now)

	err := publisher.Notify(context.Background(), mustHolderID(test, "alice"), sampleMessage(test))
	require.ErrorIs(test, err, booking.ErrDeliveryFailure)
}

func TestMultiSucceedsWhenAnySinkAccepts(test *testing.T) {
	test.Parallel()
	unreachable := funcNotifier(func(context.Context, booking.HolderID, booking.Message) error {
		return booking.ErrRecipientUnreachable
	})
	failing := funcNotifier(func(context.Context, booking.HolderID, booking.Message) error {
		return errors.New("boom")
	})
	accepted := 0
	accepting := funcNotifier(func(context.Context, booking.HolderID, booking.Message) error {
		accepted++
		return nil
	})
	alice := mustHolderID(test, "alice")
	message := sampleMessage(test)

	require.NoError(test, NewMulti(unreachable, nil, accepting).Notify(context.Background(), alice, message))
	assert.Equal(test, 1, accepted)

	err := NewMulti(unreachable, unreachable).Notify(context.Background(), alice, message)
	require.ErrorIs(test, err, booking.ErrRecipientUnreachable)

	err = NewMulti(unreachable, failing).Notify(context.Background(), alice, message)
	require.ErrorIs(test, err, booking.ErrDeliveryFailure)
	assert.NotErrorIs(test, err, booking.ErrRecipientUnreachable)

	err = NewMulti().Notify(context.Background(), alice, message)
	require.ErrorIs(test, err, booking.ErrDeliveryFailure)
}

func TestLogNotifierAlwaysSucceeds(test *testing.T) {
	test.Parallel()
	require.NoError(test, NewLogNotifier(nil).Notify(context.Background(), mustHolderID(test, "alice"), sampleMessage(test)))
}
