package notification

import (
	"context"
	"errors"
	"fmt"

	"github.com/smukkama/abay-monitor/internal/protocol"
)

// ErrNoRecipients is returned for a message with nowhere to go.
var ErrNoRecipients = errors.New("notification: no recipients")

// Message is one outbound notification.
type Message struct {
	AlarmID    int64
	UserID     int64
	Trigger    string
	Recipients []string
	Subject    string
	Body       string
}

// Notifier delivers a message. Failures are returned, never retried.
type Notifier interface {
	Notify(ctx context.Context, msg *Message) error
}

// Publisher writes a keyed message to a queue.
type Publisher interface {
	Publish(ctx context.Context, key string, value []byte) error
}

// KafkaNotifier queues messages for the notification service.
type KafkaNotifier struct {
	publisher Publisher
}

func NewKafkaNotifier(publisher Publisher) *KafkaNotifier {
	return &KafkaNotifier{publisher: publisher}
}

func (k *KafkaNotifier) Notify(ctx context.Context, msg *Message) error {
	if len(msg.Recipients) == 0 {
		return ErrNoRecipients
	}
	queued := protocol.NewAlarmMessage(msg.AlarmID, msg.UserID, msg.Trigger, msg.Recipients, msg.Subject, msg.Body)
	data, err := protocol.EncodeAlarmMessage(queued)
	if err != nil {
		return fmt.Errorf("failed to encode alarm message: %w", err)
	}
	if err := k.publisher.Publish(ctx, queued.Key(), data); err != nil {
		return fmt.Errorf("failed to queue alarm %d: %w", msg.AlarmID, err)
	}
	return nil
}

// FromQueued converts a queued message back for delivery.
func FromQueued(m *protocol.AlarmMessage) *Message {
	return &Message{
		AlarmID:    m.AlarmID,
		UserID:     m.UserID,
		Trigger:    m.Trigger,
		Recipients: m.Recipients,
		Subject:    m.Subject,
		Body:       m.Body,
	}
}
