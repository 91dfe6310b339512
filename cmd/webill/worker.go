package main

import (
	"context"

	"github.com/septivank/webill/internal/config"
	"github.com/septivank/webill/internal/mq"
	"github.com/septivank/webill/internal/service"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Consume reading.validated events and auto-bill readings",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runForever(fx.New(
			coreModule,
			fx.Invoke(requireRabbitMQ, startWorker),
		))
	},
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

func startWorker(
	lc fx.Lifecycle,
	conn *mq.Connection,
	cfg *config.Config,
	logger *zap.Logger,
	svc *service.Service,
) (*mq.Consumer, error) {
	// Create context for consumer that will be cancelled on shutdown
	ctx, cancel := context.WithCancel(context.Background())

	consumer, err := mq.NewConsumer(mq.ConsumerConfig{
		Connection:       conn,
		Queue:            cfg.RabbitMQ.BillingQueue,
		DLQQueue:         cfg.RabbitMQ.DLQQueue,
		Exchange:         cfg.RabbitMQ.EventsExchange,
		RoutingKey:       cfg.RabbitMQ.ValidatedRoutingKey,
		PrefetchCount:    cfg.RabbitMQ.PrefetchCount,
		HandlerTimeout:   cfg.RabbitMQ.HandlerTimeout,
		Logger:           logger,
		MessageProcessor: svc.HandleReadingValidated,
	})
	if err != nil {
		cancel()
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStart: func(startCtx context.Context) error {
			logger.Info("starting billing consumer",
				zap.String("queue", cfg.RabbitMQ.BillingQueue),
				zap.Int("prefetch", cfg.RabbitMQ.PrefetchCount))
			return consumer.Start(ctx)
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			if err := consumer.Close(); err != nil {
				logger.Error("failed to close consumer", zap.Error(err))
				return err
			}
			logger.Info("worker stopped gracefully")
			return nil
		},
	})

	return consumer, nil
}
