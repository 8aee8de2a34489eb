// Package service provides the RabbitMQ publisher for domain events.
// Publishing dials per call, which keeps the publisher stateless; traffic is
// one message per code request or catalog change.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	q "github.com/iliyamo/memory-gallery/internal/queue"
)

// Publisher sends events to durable queues on the default exchange.
type Publisher struct {
	url string
	log *zap.Logger
}

// NewPublisher returns a publisher for the broker at url.
func NewPublisher(url string, log *zap.Logger) *Publisher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Publisher{url: url, log: log}
}

// PublishOTPRequested publishes to otp.requested.  The code is not logged.
func (p *Publisher) PublishOTPRequested(ctx context.Context, ev q.OTPRequestedEvent) error {
	return p.publish(ctx, q.OTPRequestedQueue, ev.EventID, ev)
}

// PublishMediaChanged publishes to media.changed.
func (p *Publisher) PublishMediaChanged(ctx context.Context, ev q.MediaChangedEvent) error {
	return p.publish(ctx, q.MediaChangedQueue, ev.EventID, ev)
}

func (p *Publisher) publish(ctx context.Context, queue, id string, event any) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", queue, err)
	}

	conn, err := amqp.Dial(p.url)
	if err != nil {
		p.log.Warn("rabbitmq: dial failed", zap.String("queue", queue), zap.Error(err))
		return fmt.Errorf("dial broker: %w", err)
	}
	defer func() { _ = conn.Close() }()

	ch, err := conn.Channel()
	if err != nil {
		p.log.Warn("rabbitmq: channel open failed", zap.Error(err))
		return fmt.Errorf("open channel: %w", err)
	}
	defer func() { _ = ch.Close() }()

	// Idempotent; durable so messages survive broker restarts.
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		p.log.Warn("rabbitmq: queue declare failed", zap.String("queue", queue), zap.Error(err))
		return fmt.Errorf("declare %s: %w", queue, err)
	}

	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    id,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}
	if err := ch.PublishWithContext(ctx, "", queue, false, false, pub); err != nil {
		p.log.Warn("rabbitmq: publish failed", zap.String("queue", queue), zap.Error(err))
		return fmt.Errorf("publish %s: %w", queue, err)
	}
	p.log.Debug("event published", zap.String("queue", queue), zap.String("event_id", id))
	return nil
}
