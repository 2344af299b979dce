// Package publisher hands finished run reports to the renderer over RabbitMQ.
package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/passbuild/passbuild/internal/domain"
)

const (
	exchangeType = "direct"

	// Reconnection settings
	reconnectDelay    = 2 * time.Second
	maxReconnectDelay = 30 * time.Second

	publishTimeout = 5 * time.Second
)

// Publisher publishes run reports to the message broker.
type Publisher interface {
	Publish(ctx context.Context, session string, report *domain.RunReport) error
	Close() error
}

// Message is the published body.
type Message struct {
	Session string            `json:"session"`
	Report  *domain.RunReport `json:"report"`
}

type rabbitPublisher struct {
	url      string
	exchange string
	queue    string
	conn     *amqp.Connection
	channel  *amqp.Channel
	logger   *zap.Logger
	mu       sync.RWMutex
	closed   bool
}

// NewRabbitMQPublisher connects and declares the report queue. An empty
// exchange publishes through the default exchange with the queue name as
// routing key.
func NewRabbitMQPublisher(url, exchange, queue string, logger *zap.Logger) (Publisher, error) {
	p := &rabbitPublisher{
		url:      url,
		exchange: exchange,
		queue:    queue,
		logger:   logger,
	}

	if err := p.connect(); err != nil {
		return nil, err
	}

	go p.watchConnection()

	return p, nil
}

func (p *rabbitPublisher) connect() error {
	conn, err := amqp.Dial(p.url)
	if err != nil {
		return fmt.Errorf("rabbitmq: dial: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("rabbitmq: channel: %w", err)
	}

	fail := func(step string, err error) error {
		ch.Close()
		conn.Close()
		return fmt.Errorf("rabbitmq: %s: %w", step, err)
	}

	if err := ch.Confirm(false); err != nil {
		return fail("enable confirms", err)
	}
	if _, err := ch.QueueDeclare(p.queue, true, false, false, false, nil); err != nil {
		return fail("declare queue", err)
	}
	if p.exchange != "" {
		if err := ch.ExchangeDeclare(p.exchange, exchangeType, true, false, false, false, nil); err != nil {
			return fail("declare exchange", err)
		}
		if err := ch.QueueBind(p.queue, p.queue, p.exchange, false, nil); err != nil {
			return fail("bind queue", err)
		}
	}

	p.mu.Lock()
	p.conn = conn
	p.channel = ch
	p.mu.Unlock()

	p.logger.Info("RabbitMQ report publisher initialized",
		zap.String("exchange", p.exchange),
		zap.String("queue", p.queue),
	)
	return nil
}

// watchConnection monitors the connection and reconnects on failure.
func (p *rabbitPublisher) watchConnection() {
	for {
		p.mu.RLock()
		if p.closed {
			p.mu.RUnlock()
			return
		}
		conn := p.conn
		p.mu.RUnlock()

		reason, ok := <-conn.NotifyClose(make(chan *amqp.Error, 1))
		if !ok {
			return
		}

		p.logger.Warn("RabbitMQ connection lost, reconnecting",
			zap.String("reason", reason.Error()),
		)

		delay := reconnectDelay
		for {
			p.mu.RLock()
			if p.closed {
				p.mu.RUnlock()
				return
			}
			p.mu.RUnlock()

			time.Sleep(delay)

			if err := p.connect(); err != nil {
				p.logger.Warn("RabbitMQ reconnect failed", zap.Error(err), zap.Duration("retry_in", delay))
				delay = nextDelay(delay)
				continue
			}

			p.logger.Info("RabbitMQ reconnected")
			break
		}
	}
}

func nextDelay(d time.Duration) time.Duration {
	d *= 2
	if d > maxReconnectDelay {
		d = maxReconnectDelay
	}
	return d
}

// Publish sends a report and waits for the broker confirm.
func (p *rabbitPublisher) Publish(ctx context.Context, session string, report *domain.RunReport) error {
	body, err := Encode(session, report)
	if err != nil {
		return err
	}

	p.mu.RLock()
	ch := p.channel
	p.mu.RUnlock()

	if ch == nil {
		return fmt.Errorf("rabbitmq: channel not available (reconnecting)")
	}

	publishCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	confirm, err := ch.PublishWithDeferredConfirmWithContext(publishCtx,
		p.exchange,
		p.queue,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    report.RunID.String(),
			Timestamp:    time.Now(),
			Type:         string(report.Status),
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("rabbitmq: publish: %w", err)
	}
	if confirm == nil {
		return fmt.Errorf("rabbitmq: channel not in confirm mode")
	}
	if err := waitConfirm(publishCtx, confirm); err != nil {
		return fmt.Errorf("rabbitmq: %w (run_id=%s)", err, report.RunID)
	}

	p.logger.Debug("Published report to RabbitMQ",
		zap.String("run_id", report.RunID.String()),
		zap.Int("body_size", len(body)),
	)
	return nil
}

// acknowledger is satisfied by *amqp.DeferredConfirmation.
type acknowledger interface {
	WaitContext(ctx context.Context) (bool, error)
}

var _ acknowledger = (*amqp.DeferredConfirmation)(nil)

// waitConfirm waits for the broker to ack one publishing. Every publishing
// carries its own confirmation.
func waitConfirm(ctx context.Context, confirm acknowledger) error {
	ack, err := confirm.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("publish confirmation timeout: %w", err)
	}
	if !ack {
		return errors.New("broker nacked report")
	}
	return nil
}

func (p *rabbitPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.closed = true

	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

// Encode builds the message body for a report.
func Encode(session string, report *domain.RunReport) ([]byte, error) {
	body, err := json.Marshal(Message{Session: session, Report: report})
	if err != nil {
		return nil, fmt.Errorf("rabbitmq: marshal report: %w", err)
	}
	return body, nil
}
