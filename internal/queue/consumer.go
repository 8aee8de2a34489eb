package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Consumer listens to the otp.requested and media.changed queues and
// appends one line per message to logs/otp.log and logs/media.log under
// LogDir.  The otp log stands in for the email/SMS gateway.
type Consumer struct {
	URL    string
	LogDir string
	Log    *zap.Logger

	mu sync.Mutex // serializes file appends
}

// NewConsumer returns a consumer writing below logDir.
func NewConsumer(url, logDir string, log *zap.Logger) *Consumer {
	if log == nil {
		log = zap.NewNop()
	}
	if logDir == "" {
		logDir = "logs"
	}
	return &Consumer{URL: url, LogDir: logDir, Log: log}
}

// Run connects to the broker and consumes until ctx is cancelled.  Dial and
// channel failures are retried with exponential backoff capped at 30s.
func (c *Consumer) Run(ctx context.Context) error {
	backoff := time.Second
	for {
		conn, err := amqp.Dial(c.URL)
		if err != nil {
			c.Log.Warn("consumer: dial broker failed", zap.Error(err), zap.Duration("retry_in", backoff))
			if !sleep(ctx, backoff) {
				return ctx.Err()
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second // reset after successful connect

		err = c.consumeLoop(ctx, conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.Log.Warn("consumer: loop ended, reconnecting", zap.Error(err))
		if !sleep(ctx, 2*time.Second) {
			return ctx.Err()
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (c *Consumer) consumeLoop(ctx context.Context, conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(50, 0, false); err != nil {
		c.Log.Warn("consumer: set QoS failed", zap.Error(err))
	}

	otpMsgs, err := c.subscribe(ch, OTPRequestedQueue)
	if err != nil {
		return err
	}
	mediaMsgs, err := c.subscribe(ch, MediaChangedQueue)
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-otpMsgs:
			if !ok {
				return errors.New("otp deliveries closed")
			}
			c.settle(d, c.HandleOTPRequested(d.Body))
		case d, ok := <-mediaMsgs:
			if !ok {
				return errors.New("media deliveries closed")
			}
			c.settle(d, c.HandleMediaChanged(d.Body))
		}
	}
}

func (c *Consumer) subscribe(ch *amqp.Channel, queue string) (<-chan amqp.Delivery, error) {
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("queue declare %s: %w", queue, err)
	}
	msgs, err := ch.Consume(queue, "", false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("queue consume %s: %w", queue, err)
	}
	return msgs, nil
}

func (c *Consumer) settle(d amqp.Delivery, err error) {
	if err != nil {
		c.Log.Warn("consumer: handle message failed", zap.String("queue", d.RoutingKey), zap.Error(err))
		_ = d.Nack(false, false) // reject, do not requeue to avoid tight loops
		return
	}
	_ = d.Ack(false)
}

// HandleOTPRequested records a code delivery.
func (c *Consumer) HandleOTPRequested(body []byte) error {
	var ev OTPRequestedEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}
	if ev.Identifier == "" || ev.Code == "" {
		return errors.New("otp event without identifier or code")
	}
	line := fmt.Sprintf("[%s] Code delivered | event_id=%s | channel=%s | to=%q | code=%s | expires_at=%s\n",
		ev.IssuedAt, ev.EventID, ev.Channel, ev.Identifier, ev.Code, ev.ExpiresAt)
	return c.appendLine("otp.log", line)
}

// HandleMediaChanged records a catalog change.
func (c *Consumer) HandleMediaChanged(body []byte) error {
	var ev MediaChangedEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}
	if ev.MediaID == "" {
		return errors.New("media event without media_id")
	}
	line := fmt.Sprintf("[%s] Media %s | event_id=%s | media_id=%s | title=%q | actor=%q\n",
		ev.OccurredAt, ev.Action, ev.EventID, ev.MediaID, ev.Title, ev.Actor)
	return c.appendLine("media.log", line)
}

func (c *Consumer) appendLine(name, line string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := os.MkdirAll(c.LogDir, 0o755); err != nil {
		return fmt.Errorf("mkdir logs: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(c.LogDir, name), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString(line); err != nil {
		return fmt.Errorf("write log: %w", err)
	}
	return nil
}
