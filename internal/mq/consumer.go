package mq

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// MessageHandler processes one message body. A nil error acks the message.
type MessageHandler func(ctx context.Context, body []byte) error

// Temporary is implemented by handler errors that may succeed on a second
// delivery, such as a storage or database outage.
type Temporary interface {
	Temporary() bool
}

type outcome int

const (
	outcomeAck outcome = iota
	outcomeRequeue
	outcomeDeadLetter
)

func (o outcome) String() string {
	switch o {
	case outcomeAck:
		return "ack"
	case outcomeRequeue:
		return "requeue"
	default:
		return "dead-letter"
	}
}

// settle picks what happens to a delivery. A temporary failure gets one
// more delivery, anything else goes to the DLQ.
func settle(err error, redelivered bool) outcome {
	if err == nil {
		return outcomeAck
	}
	var t Temporary
	if errors.As(err, &t) && t.Temporary() && !redelivered {
		return outcomeRequeue
	}
	return outcomeDeadLetter
}

// deliveryChannel is the part of *amqp.Channel the consume loop uses
type deliveryChannel interface {
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Cancel(consumer string, noWait bool) error
	Close() error
}

// Consumer drives a MessageHandler from a durable queue bound to a topic
// exchange, with a dead-letter queue for deliveries the handler gives up on.
type Consumer struct {
	channel        deliveryChannel
	tag            string
	cfg            ConsumerConfig
	logger         *zap.Logger
	inflight       sync.WaitGroup
	closeOnce      sync.Once
	handlerTimeout time.Duration
}

// ConsumerConfig holds consumer configuration
type ConsumerConfig struct {
	Connection    *Connection
	Queue         string
	DLQQueue      string
	Exchange      string
	RoutingKey    string
	PrefetchCount int
	// HandlerTimeout bounds one handler call, zero means no limit
	HandlerTimeout   time.Duration
	Logger           *zap.Logger
	MessageProcessor MessageHandler
}

// NewConsumer opens a channel and declares the queue topology
func NewConsumer(cfg ConsumerConfig) (*Consumer, error) {
	if cfg.MessageProcessor == nil {
		return nil, errors.New("consumer requires a message processor")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	ch, err := cfg.Connection.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to create channel: %w", err)
	}
	if err := ch.Qos(cfg.PrefetchCount, 0, false); err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to set QoS: %w", err)
	}
	if err := declareTopology(ch, cfg); err != nil {
		ch.Close()
		return nil, err
	}

	return &Consumer{
		channel:        ch,
		cfg:            cfg,
		handlerTimeout: cfg.HandlerTimeout,
		logger: cfg.Logger.With(
			zap.String("queue", cfg.Queue),
			zap.String("routing_key", cfg.RoutingKey),
		),
	}, nil
}

// declareTopology declares the DLQ before the work queue so a rejected
// delivery always has somewhere to go. A work queue declared earlier with
// different arguments is a deployment error.
func declareTopology(ch *amqp.Channel, cfg ConsumerConfig) error {
	if err := declareExchange(ch, cfg.Exchange); err != nil {
		return err
	}
	if _, err := ch.QueueDeclare(cfg.DLQQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare DLQ %s: %w", cfg.DLQQueue, err)
	}

	args := amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": cfg.DLQQueue,
	}
	if _, err := ch.QueueDeclare(cfg.Queue, true, false, false, false, args); err != nil {
		return fmt.Errorf("failed to declare queue %s with dead-letter arguments: %w", cfg.Queue, err)
	}
	if err := ch.QueueBind(cfg.Queue, cfg.RoutingKey, cfg.Exchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue %s to %s: %w", cfg.Queue, cfg.Exchange, err)
	}
	return nil
}

// Start begins delivery; messages are handled one at a time until ctx ends
// or the broker closes the channel.
func (c *Consumer) Start(ctx context.Context) error {
	c.tag = c.cfg.Queue + "-" + uuid.NewString()
	msgs, err := c.channel.Consume(c.cfg.Queue, c.tag, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}
	c.logger.Info("consumer started", zap.Int("prefetch", c.cfg.PrefetchCount))

	c.inflight.Add(1)
	go func() {
		defer c.inflight.Done()
		for {
			select {
			case <-ctx.Done():
				c.logger.Info("consumer context cancelled, stopping")
				return
			case msg, ok := <-msgs:
				if !ok {
					c.logger.Warn("delivery channel closed")
					return
				}
				c.handle(ctx, msg)
			}
		}
	}()
	return nil
}

func (c *Consumer) handle(ctx context.Context, msg amqp.Delivery) {
	logger := c.logger.With(
		zap.String("message_id", msg.MessageId),
		zap.Uint64("delivery_tag", msg.DeliveryTag),
		zap.Bool("redelivered", msg.Redelivered),
	)

	// shutdown stops the loop, not the message already being billed
	hctx := context.WithoutCancel(ctx)
	if c.handlerTimeout > 0 {
		var cancel context.CancelFunc
		hctx, cancel = context.WithTimeout(ctx, c.handlerTimeout)
		defer cancel()
	}

	started := time.Now()
	err := c.cfg.MessageProcessor(hctx, msg.Body)
	result := settle(err, msg.Redelivered)

	var ackErr error
	switch result {
	case outcomeAck:
		ackErr = msg.Ack(false)
		logger.Info("message processed", zap.Duration("took", time.Since(started)))
	case outcomeRequeue:
		ackErr = msg.Nack(false, true)
		logger.Warn("temporary failure, requeueing once", zap.Error(err))
	case outcomeDeadLetter:
		ackErr = msg.Nack(false, false)
		logger.Error("failed to process message, dead-lettering", zap.Error(err))
	}
	if ackErr != nil {
		logger.Error("failed to settle delivery", zap.Stringer("outcome", result), zap.Error(ackErr))
	}
}

// Close stops delivery, waits for the message being handled to be settled,
// then closes the channel.
func (c *Consumer) Close() error {
	var err error
	c.closeOnce.Do(func() {
		if c.tag != "" {
			if cancelErr := c.channel.Cancel(c.tag, false); cancelErr != nil {
				c.logger.Warn("failed to cancel consumer", zap.Error(cancelErr))
			}
		}
		c.inflight.Wait()
		err = c.channel.Close()
	})
	return err
}
