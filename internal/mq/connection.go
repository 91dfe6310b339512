package mq

import (
	"context"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const heartbeat = 10 * time.Second

// ErrConnectionClosed is returned by Healthy once the broker has dropped us
var ErrConnectionClosed = errors.New("rabbitmq connection closed")

// Connection is the process-wide broker connection shared by the billing
// consumer and the event and notification publishers.
type Connection struct {
	conn *amqp.Connection
}

// NewConnection dials the broker and closes the connection on app stop.
// name is shown in the management UI.
func NewConnection(lc fx.Lifecycle, logger *zap.Logger, url, name string) (*Connection, error) {
	props := amqp.NewConnectionProperties()
	props.SetClientConnectionName(name)

	conn, err := amqp.DialConfig(url, amqp.Config{
		Heartbeat:  heartbeat,
		Locale:     "en_US",
		Properties: props,
	})
	if err != nil {
		logger.Error("rabbitmq connection failed", zap.Error(err))
		return nil, fmt.Errorf("[RABBITMQ CONNECTION FAILED] cannot connect to RabbitMQ, check that the broker is running and RABBITMQ_URL is correct: %w", err)
	}

	// A dropped connection stops the consumer; the process is expected to be
	// restarted by its supervisor.
	closed := conn.NotifyClose(make(chan *amqp.Error, 1))
	go func() {
		if amqpErr, ok := <-closed; ok && amqpErr != nil {
			logger.Error("rabbitmq connection closed by broker",
				zap.Int("code", amqpErr.Code),
				zap.String("reason", amqpErr.Reason),
				zap.Bool("server", amqpErr.Server),
			)
		}
	}()

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			if conn.IsClosed() {
				return nil
			}
			if err := conn.Close(); err != nil {
				return fmt.Errorf("failed to close rabbitmq connection: %w", err)
			}
			logger.Info("rabbitmq connection closed")
			return nil
		},
	})

	logger.Info("connected to rabbitmq", zap.String("connection_name", name))
	return &Connection{conn: conn}, nil
}

// Channel opens a new channel on the shared connection
func (c *Connection) Channel() (*amqp.Channel, error) {
	ch, err := c.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open rabbitmq channel: %w", err)
	}
	return ch, nil
}

// Healthy reports ErrConnectionClosed after the broker drops the connection
func (c *Connection) Healthy() error {
	if c.conn.IsClosed() {
		return ErrConnectionClosed
	}
	return nil
}
