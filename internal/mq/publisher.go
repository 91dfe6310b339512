package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Publisher publishes JSON messages to one topic exchange. The channel runs
// in confirm mode, so Publish returns only once the broker has taken the
// message.
type Publisher struct {
	channel  *amqp.Channel
	exchange string
	appID    string
	logger   *zap.Logger
}

// NewPublisher opens a confirm-mode channel and declares its exchange
func NewPublisher(conn *Connection, exchange, appID string, logger *zap.Logger) (*Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to create channel: %w", err)
	}
	if err := declareExchange(ch, exchange); err != nil {
		ch.Close()
		return nil, err
	}
	if err := ch.Confirm(false); err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to enable publisher confirms on %s: %w", exchange, err)
	}

	return &Publisher{
		channel:  ch,
		exchange: exchange,
		appID:    appID,
		logger:   logger.With(zap.String("exchange", exchange)),
	}, nil
}

// Exchange returns the exchange name
func (p *Publisher) Exchange() string {
	return p.exchange
}

// Publish sends v under routingKey and waits for the broker's confirm
func (p *Publisher) Publish(ctx context.Context, routingKey string, v any) error {
	msg, err := NewMessage(v)
	if err != nil {
		return err
	}
	msg.Type = routingKey
	msg.AppId = p.appID

	confirm, err := p.channel.PublishWithDeferredConfirmWithContext(ctx, p.exchange, routingKey, false, false, msg)
	if err != nil {
		return fmt.Errorf("failed to publish %s: %w", routingKey, err)
	}
	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("waiting for confirm of %s: %w", routingKey, err)
	}
	if !acked {
		return fmt.Errorf("broker nacked %s message %s", routingKey, msg.MessageId)
	}

	p.logger.Debug("published message",
		zap.String("routing_key", routingKey),
		zap.String("message_id", msg.MessageId),
	)
	return nil
}

// NewMessage builds the persistent JSON publishing for v
func NewMessage(v any) (amqp.Publishing, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("failed to marshal message: %w", err)
	}

	return amqp.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    time.Now().UTC(),
	}, nil
}

// Close closes the publisher channel
func (p *Publisher) Close() error {
	if p.channel != nil {
		return p.channel.Close()
	}
	return nil
}

func declareExchange(ch *amqp.Channel, exchange string) error {
	err := ch.ExchangeDeclare(
		exchange,
		"topic",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare exchange %s: %w", exchange, err)
	}
	return nil
}
