package event

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

const publisherAppID = "ledger-engine"

var errNacked = errors.New("broker rejected event")

// RabbitMQPublisher sends events to a durable topic exchange, routed by
// event type, over one channel in confirm mode. Publish returns once the
// broker has acknowledged the message.
type RabbitMQPublisher struct {
	conn     *amqp.Connection
	exchange string
	logger   *slog.Logger

	mu sync.Mutex
	ch *amqp.Channel
}

var _ Publisher = (*RabbitMQPublisher)(nil)

func NewRabbitMQPublisher(conn *amqp.Connection, exchange string, logger *slog.Logger) (*RabbitMQPublisher, error) {
	if conn == nil {
		return nil, fmt.Errorf("RabbitMQ connection cannot be nil")
	}
	if exchange == "" {
		return nil, fmt.Errorf("RabbitMQ exchange name cannot be empty")
	}

	p := &RabbitMQPublisher{
		conn:     conn,
		exchange: exchange,
		logger:   logger.With("component", "RabbitMQPublisher", "exchange", exchange),
	}
	ch, err := p.openChannel()
	if err != nil {
		return nil, err
	}
	p.ch = ch
	p.logger.Info("Ledger event exchange ready", "type", amqp.ExchangeTopic)
	return p, nil
}

func (p *RabbitMQPublisher) openChannel() (*amqp.Channel, error) {
	ch, err := p.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(p.exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("failed to declare exchange %q: %w", p.exchange, err)
	}
	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("failed to enable publisher confirms: %w", err)
	}
	return ch, nil
}

// channel returns the confirm channel, reopening it after the broker closed it.
func (p *RabbitMQPublisher) channel() (*amqp.Channel, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch != nil && !p.ch.IsClosed() {
		return p.ch, nil
	}
	ch, err := p.openChannel()
	if err != nil {
		return nil, err
	}
	p.logger.Warn("Reopened RabbitMQ channel")
	p.ch = ch
	return ch, nil
}

// message builds the AMQP publishing for e. The event id doubles as the
// message id so consumers can drop redeliveries.
func message(e Event) (amqp.Publishing, error) {
	body, err := json.Marshal(e)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("failed to marshal event %s: %w", e.ID, err)
	}
	headers := amqp.Table{}
	if e.AccountID != 0 {
		headers["accountId"] = e.AccountID
	}
	if e.CustomerID != 0 {
		headers["customerId"] = e.CustomerID
	}
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    e.ID,
		Type:         string(e.Type),
		Timestamp:    e.Timestamp,
		AppId:        publisherAppID,
		Headers:      headers,
		Body:         body,
	}, nil
}

func (p *RabbitMQPublisher) Publish(ctx context.Context, e Event) error {
	msg, err := message(e)
	if err != nil {
		return err
	}
	ch, err := p.channel()
	if err != nil {
		return err
	}

	confirm, err := ch.PublishWithDeferredConfirmWithContext(ctx, p.exchange, string(e.Type), false, false, msg)
	if err != nil {
		return fmt.Errorf("failed to publish event %s: %w", e.ID, err)
	}
	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("no confirm for event %s: %w", e.ID, err)
	}
	if !acked {
		return fmt.Errorf("%w: %s", errNacked, e.ID)
	}

	p.logger.DebugContext(ctx, "Event confirmed", slog.String("eventID", e.ID), slog.String("type", string(e.Type)))
	return nil
}

func (p *RabbitMQPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch == nil || p.ch.IsClosed() {
		return nil
	}
	return p.ch.Close()
}
