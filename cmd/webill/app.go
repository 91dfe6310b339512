package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/septivank/webill/internal/anomaly"
	"github.com/septivank/webill/internal/auth"
	"github.com/septivank/webill/internal/config"
	"github.com/septivank/webill/internal/db"
	"github.com/septivank/webill/internal/document"
	"github.com/septivank/webill/internal/geo"
	"github.com/septivank/webill/internal/mq"
	"github.com/septivank/webill/internal/notify"
	"github.com/septivank/webill/internal/ocr"
	"github.com/septivank/webill/internal/repository"
	"github.com/septivank/webill/internal/service"
	"github.com/septivank/webill/internal/storage"
	"github.com/septivank/webill/internal/validator"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const startTimeout = 30 * time.Second

// coreModule provides everything the service needs
var coreModule = fx.Options(
	fx.Provide(
		config.Load,
		newLogger,
		ProvideDBPool,
		ProvideRepository,
		ProvideObjectStorage,
		ProvideImageStore,
		ProvideDocumentStore,
		ProvideExtractor,
		ProvideRenderer,
		ProvideMQConnection,
		ProvidePublishers,
		ProvideDispatcher,
		ProvideAnomalyDetector,
		ProvideValidator,
		ProvideProximityValidator,
		ProvideService,
	),
)

// requireRabbitMQ makes a command fail at startup when no broker is configured
func requireRabbitMQ(cfg *config.Config) error {
	return cfg.RequireRabbitMQ()
}

// runForever starts the app and blocks until SIGINT or SIGTERM
func runForever(app *fx.App) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	startCtx, startCancel := context.WithTimeout(context.Background(), startTimeout)
	defer startCancel()

	if err := app.Start(startCtx); err != nil {
		if startCtx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("application start timeout: a dependency (database, storage or RabbitMQ) is not reachable: %w", err)
		}
		return err
	}

	<-ctx.Done()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), startTimeout)
	defer stopCancel()
	return app.Stop(stopCtx)
}

// runOnce starts the app, runs job, and stops the app again
func runOnce(app *fx.App, job func(ctx context.Context) error) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	startCtx, startCancel := context.WithTimeout(ctx, startTimeout)
	defer startCancel()
	if err := app.Start(startCtx); err != nil {
		return err
	}

	jobErr := job(ctx)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), startTimeout)
	defer stopCancel()
	if err := app.Stop(stopCtx); err != nil && jobErr == nil {
		return err
	}
	return jobErr
}

// ProvideDBPool creates a new database pool instance
func ProvideDBPool(lc fx.Lifecycle, logger *zap.Logger, cfg *config.Config) (*db.Pool, error) {
	return db.NewPool(lc, logger, cfg.Database, cfg.ServiceName)
}

// ProvideRepository creates a new repository instance
func ProvideRepository(pool *db.Pool) *repository.Repository {
	return repository.NewRepository(pool)
}

// ProvideObjectStorage creates the S3 client shared by images and documents
func ProvideObjectStorage(cfg *config.Config, logger *zap.Logger) (*storage.S3ObjectStorage, error) {
	return storage.NewS3ObjectStorage(&cfg.Storage, storage.WithLogger(logger))
}

// ProvideImageStore creates the meter photo store
func ProvideImageStore(s3 *storage.S3ObjectStorage, cfg *config.Config, logger *zap.Logger) *storage.ImageStore {
	return storage.NewImageStore(s3, cfg.Storage.ImageMaxBytes, logger)
}

// ProvideDocumentStore creates the bill document store
func ProvideDocumentStore(s3 *storage.S3ObjectStorage, logger *zap.Logger) *storage.DocumentStore {
	return storage.NewDocumentStore(s3, logger)
}

// ProvideExtractor creates the OCR extractor, disabled unless OCR_ENABLED
func ProvideExtractor(cfg *config.Config, logger *zap.Logger) *ocr.Extractor {
	var factory ocr.EngineFactory
	if cfg.OCR.Enabled {
		factory = ocr.NewVisionFactory(ocr.VisionCredentials{
			JSON: cfg.OCR.CredentialsJSON,
			File: cfg.OCR.CredentialsFile,
		})
	}
	return ocr.NewExtractor(factory, cfg.OCR.Timeout, logger)
}

// ProvideRenderer creates the bill renderer over headless Chrome
func ProvideRenderer(lc fx.Lifecycle, cfg *config.Config, logger *zap.Logger) *document.BillRenderer {
	chrome := document.NewChromeRenderer(&cfg.Render, logger)
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return chrome.Close()
		},
	})
	return document.NewBillRenderer(chrome)
}

// ProvideMQConnection creates a new RabbitMQ connection instance. Without
// RABBITMQ_URL it returns nil and events and notifications are disabled.
func ProvideMQConnection(lc fx.Lifecycle, logger *zap.Logger, cfg *config.Config) (*mq.Connection, error) {
	if cfg.RabbitMQ.URL == "" {
		logger.Warn("RABBITMQ_URL not set, events and notifications are disabled")
		return nil, nil
	}
	return mq.NewConnection(lc, logger, cfg.RabbitMQ.URL, cfg.ServiceName)
}

// Publishers are the two outbound exchanges
type Publishers struct {
	Events *mq.Publisher
	Notify *mq.Publisher
}

// ProvidePublishers declares the events and notification exchanges
func ProvidePublishers(lc fx.Lifecycle, conn *mq.Connection, cfg *config.Config, logger *zap.Logger) (*Publishers, error) {
	if conn == nil {
		return nil, nil
	}

	events, err := mq.NewPublisher(conn, cfg.RabbitMQ.EventsExchange, cfg.ServiceName, logger)
	if err != nil {
		return nil, err
	}
	notifications, err := mq.NewPublisher(conn, cfg.RabbitMQ.NotifyExchange, cfg.ServiceName, logger)
	if err != nil {
		events.Close()
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			if err := notifications.Close(); err != nil {
				logger.Warn("failed to close notification publisher", zap.Error(err))
			}
			return events.Close()
		},
	})
	return &Publishers{Events: events, Notify: notifications}, nil
}

// ProvideDispatcher creates the notification dispatcher
func ProvideDispatcher(pubs *Publishers, cfg *config.Config, logger *zap.Logger) notify.Dispatcher {
	if pubs == nil {
		return nil
	}
	return notify.NewAMQPDispatcher(pubs.Notify, cfg.RabbitMQ.BillIssuedRoutingKey, cfg.RabbitMQ.ReminderRoutingKey, logger)
}

// ProvideAnomalyDetector creates a new anomaly detector instance
func ProvideAnomalyDetector(cfg *config.Config) *anomaly.Detector {
	return anomaly.NewDetector(cfg.Anomaly.SpikeThreshold, cfg.Anomaly.MinDataPointsForDetection)
}

// ProvideValidator creates a new validator instance
func ProvideValidator() *validator.Validator {
	return validator.NewValidator(0)
}

// ProvideProximityValidator creates the meter proximity check
func ProvideProximityValidator(cfg *config.Config) *geo.ProximityValidator {
	return geo.NewProximityValidator(cfg.Proximity.MaxDistanceKm)
}

// ProvideService wires the core service
func ProvideService(
	repo *repository.Repository,
	images *storage.ImageStore,
	documents *storage.DocumentStore,
	extractor *ocr.Extractor,
	renderer *document.BillRenderer,
	dispatcher notify.Dispatcher,
	pubs *Publishers,
	v *validator.Validator,
	detector *anomaly.Detector,
	proximity *geo.ProximityValidator,
	cfg *config.Config,
	logger *zap.Logger,
) (*service.Service, error) {
	opts, err := service.OptionsFromConfig(cfg)
	if err != nil {
		return nil, err
	}

	deps := service.Deps{
		Store:      repo,
		Images:     images,
		Documents:  documents,
		Renderer:   renderer,
		Dispatcher: dispatcher,
		Validator:  v,
		Detector:   detector,
		Proximity:  proximity,
	}
	if extractor.Enabled() {
		deps.OCR = extractor
	}
	if pubs != nil {
		deps.Events = pubs.Events
	}
	return service.New(deps, opts, logger), nil
}

// ProvideTokenVerifier creates the bearer token verifier
func ProvideTokenVerifier(cfg *config.Config) (*auth.TokenVerifier, error) {
	if err := cfg.RequireAuth(); err != nil {
		return nil, err
	}
	return auth.NewTokenVerifier(&cfg.Auth)
}
