package notification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/smukkama/abay-monitor/internal/protocol"
)

// ErrDeliveryFailed is returned by Relay.Run when a message could not be
// delivered within the retry budget. The message is left uncommitted.
var ErrDeliveryFailed = errors.New("notification: delivery failed")

// Source is a queue of alarm messages with explicit offset commits.
type Source interface {
	Consume(ctx context.Context) (kafka.Message, error)
	Commit(ctx context.Context, msg kafka.Message) error
}

// RetryPolicy bounds delivery attempts of one message.
type RetryPolicy struct {
	Attempts   int
	Backoff    time.Duration // before the second attempt, doubled after each failure
	MaxBackoff time.Duration
}

// Relay delivers queued alarm messages in order. A message is committed
// only once it is delivered or can never be; later messages are not read
// while an earlier one is undelivered.
type Relay struct {
	source   Source
	notifier Notifier
	retry    RetryPolicy
	logger   *zap.Logger
	sleep    func(ctx context.Context, d time.Duration) error
}

func NewRelay(source Source, notifier Notifier, retry RetryPolicy, logger *zap.Logger) *Relay {
	if retry.Attempts < 1 {
		retry.Attempts = 1
	}
	return &Relay{
		source:   source,
		notifier: notifier,
		retry:    retry,
		logger:   logger,
		sleep:    sleepContext,
	}
}

// Run consumes until ctx is cancelled or a message exhausts its retries,
// in which case it returns ErrDeliveryFailed so the process can restart
// and the message is redelivered.
func (r *Relay) Run(ctx context.Context) error {
	for {
		msg, err := r.source.Consume(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.logger.Error("Failed to consume message", zap.Error(err))
			if err := r.sleep(ctx, r.retry.Backoff); err != nil {
				return err
			}
			continue
		}

		if err := r.handle(ctx, msg); err != nil {
			return err
		}
	}
}

func (r *Relay) handle(ctx context.Context, msg kafka.Message) error {
	queued, err := protocol.DecodeAlarmMessage(msg.Value)
	if err != nil {
		// Undecodable messages are skipped for good.
		r.logger.Error("Failed to decode alarm message", zap.Int64("offset", msg.Offset), zap.Error(err))
		return r.commit(ctx, msg)
	}

	err = r.deliver(ctx, queued)
	switch {
	case err == nil:
	case errors.Is(err, ErrNoRecipients):
		r.logger.Warn("Dropping alarm message without recipients", zap.String("message_id", queued.ID))
	case ctx.Err() != nil:
		return ctx.Err()
	default:
		return fmt.Errorf("%w: alarm %d at offset %d: %w", ErrDeliveryFailed, queued.AlarmID, msg.Offset, err)
	}
	return r.commit(ctx, msg)
}

func (r *Relay) deliver(ctx context.Context, queued *protocol.AlarmMessage) error {
	backoff := r.retry.Backoff
	for attempt := 1; ; attempt++ {
		err := r.notifier.Notify(ctx, FromQueued(queued))
		if err == nil || errors.Is(err, ErrNoRecipients) || attempt >= r.retry.Attempts {
			return err
		}

		r.logger.Warn("Failed to send notification, retrying",
			zap.String("message_id", queued.ID),
			zap.Int64("alarm_id", queued.AlarmID),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)
		if err := r.sleep(ctx, backoff); err != nil {
			return err
		}
		backoff *= 2
		if r.retry.MaxBackoff > 0 && backoff > r.retry.MaxBackoff {
			backoff = r.retry.MaxBackoff
		}
	}
}

// commit failures are logged only: a later commit covers the offset, and an
// uncommitted delivered message is at worst sent twice.
func (r *Relay) commit(ctx context.Context, msg kafka.Message) error {
	if err := r.source.Commit(ctx, msg); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		r.logger.Error("Failed to commit offset", zap.Int64("offset", msg.Offset), zap.Error(err))
	}
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
