package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MarkoPoloResearchLab/spacebook/pkg/booking"
	amqp "github.com/rabbitmq/amqp091-go"
)

// DefaultQueue is the queue lifecycle events are published to.
const DefaultQueue = "spacebook.notifications"

// Event is the JSON body published for every notification.
type Event struct {
	HolderID      string `json:"holder_id"`
	Kind          string `json:"kind"`
	ReservationID string `json:"reservation_id"`
	ResourceID    string `json:"resource_id"`
	ResourceName  string `json:"resource_name"`
	Date          string `json:"date"`
	StartSecond   int    `json:"start_second"`
	EndSecond     int    `json:"end_second"`
	Text          string `json:"text"`
	PublishedAt   string `json:"published_at"`
}

type publishChannel interface {
	PublishWithContext(ctx context.Context, exchange string, key string, mandatory bool, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPPublisher publishes notifications to a durable RabbitMQ queue for
// downstream delivery.
type AMQPPublisher struct {
	mu         sync.Mutex
	connection *amqp.Connection
	channel    publishChannel
	queue      string
	now        func() time.Time
}

// NewAMQPPublisher dials url and declares queue.
func NewAMQPPublisher(url string, queue string) (*AMQPPublisher, error) {
	if url == "" {
		return nil, errors.New("amqp url is empty")
	}
	if queue == "" {
		queue = DefaultQueue
	}
	connection, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("rabbitmq dial: %w", err)
	}
	channel, err := connection.Channel()
	if err != nil {
		_ = connection.Close()
		return nil, fmt.Errorf("rabbitmq channel: %w", err)
	}
	if _, err := channel.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		_ = channel.Close()
		_ = connection.Close()
		return nil, fmt.Errorf("rabbitmq queue declare: %w", err)
	}
	publisher := newAMQPPublisher(channel, queue, time.Now)
	publisher.connection = connection
	return publisher, nil
}

func newAMQPPublisher(channel publishChannel, queue string, now func() time.Time) *AMQPPublisher {
	return &AMQPPublisher{channel: channel, queue: queue, now: now}
}

// Notify publishes the message as a persistent JSON event.
func (publisher *AMQPPublisher) Notify(ctx context.Context, holderID booking.HolderID, message booking.Message) error {
	body, err := json.Marshal(Event{
		HolderID:      holderID.String(),
		Kind:          string(message.Kind),
		ReservationID: message.ReservationID.String(),
		ResourceID:    message.ResourceID.String(),
		ResourceName:  message.ResourceName,
		Date:          message.Slot.Date.String(),
		StartSecond:   message.Slot.Interval.Start(),
		EndSecond:     message.Slot.Interval.End(),
		Text:          message.Text,
		PublishedAt:   publisher.now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("%w: marshal event: %w", booking.ErrDeliveryFailure, err)
	}
	publishing := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    publisher.now().UTC(),
		MessageId:    message.ReservationID.String() + ":" + string(message.Kind),
		Body:         body,
	}
	publisher.mu.Lock()
	defer publisher.mu.Unlock()
	if err := publisher.channel.PublishWithContext(ctx, "", publisher.queue, false, false, publishing); err != nil {
		return fmt.Errorf("%w: rabbitmq publish: %w", booking.ErrDeliveryFailure, err)
	}
	return nil
}

// Close releases the channel and connection.
func (publisher *AMQPPublisher) Close() error {
	publisher.mu.Lock()
	defer publisher.mu.Unlock()
	var closeErrors []error
	if publisher.channel != nil {
		closeErrors = append(closeErrors, publisher.channel.Close())
	}
	if publisher.connection != nil {
		closeErrors = append(closeErrors, publisher.connection.Close())
	}
	return errors.Join(closeErrors...)
}
