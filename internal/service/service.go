package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/septivank/webill/internal/anomaly"
	"github.com/septivank/webill/internal/billing"
	"github.com/septivank/webill/internal/config"
	"github.com/septivank/webill/internal/db"
	"github.com/septivank/webill/internal/document"
	"github.com/septivank/webill/internal/geo"
	"github.com/septivank/webill/internal/notify"
	"github.com/septivank/webill/internal/ocr"
	"github.com/septivank/webill/internal/repository"
	"github.com/septivank/webill/internal/storage"
	"github.com/septivank/webill/internal/validator"
	"go.uber.org/zap"
)

// Store is the persistence the core operations need
type Store interface {
	GetAccount(ctx context.Context, id uuid.UUID) (*db.Account, error)
	PurgeDisabledAccounts(ctx context.Context, cutoff time.Time) (int64, error)

	GetMeter(ctx context.Context, id uuid.UUID) (*db.Meter, error)
	AssignMeter(ctx context.Context, meterID, consumerID uuid.UUID) (bool, error)
	UnassignMeter(ctx context.Context, meterID uuid.UUID) error
	ListMetersMissingReading(ctx context.Context, month, year int) ([]db.Meter, error)

	InsertReading(ctx context.Context, reading *db.Reading) error
	GetReading(ctx context.Context, id uuid.UUID) (*db.Reading, error)
	ActiveReadingExists(ctx context.Context, meterID uuid.UUID, month, year int) (bool, error)
	AcceptedHistory(ctx context.Context, meterID uuid.UUID, month, year, limit int) ([]db.Reading, error)
	DecideReading(ctx context.Context, id uuid.UUID, state db.ReadingState, decidedBy uuid.UUID, reasons []string, at time.Time) (*db.Reading, bool, error)
	ListReadings(ctx context.Context, filter repository.ReadingFilter) ([]db.Reading, error)

	InsertBill(ctx context.Context, bill *db.Bill) error
	GetBill(ctx context.Context, id uuid.UUID) (*db.Bill, error)
	GetBillByReading(ctx context.Context, readingID uuid.UUID) (*db.Bill, error)
	SetBillPaid(ctx context.Context, id uuid.UUID, paid bool) (*db.Bill, error)
	MarkBillNotified(ctx context.Context, id uuid.UUID, at time.Time) error
	MarkBillNotifyFailed(ctx context.Context, id uuid.UUID, reason string) error
	ListUnnotifiedBills(ctx context.Context, limit int) ([]db.Bill, error)
	ListBills(ctx context.Context, accountID *uuid.UUID, limit, offset int) ([]db.Bill, error)

	GetSettings(ctx context.Context) (db.SystemSettings, error)
	SaveSettings(ctx context.Context, s db.SystemSettings) (db.SystemSettings, error)
}

// ImageStore stores meter photographs
type ImageStore interface {
	Validate(img storage.Image) (string, error)
	Put(ctx context.Context, img storage.Image) (storage.Ref, error)
	Discard(ctx context.Context, ref storage.Ref)
}

// DocumentStore stores bill documents
type DocumentStore interface {
	PutBill(ctx context.Context, key string, pdf []byte) (storage.Ref, error)
	Delete(ctx context.Context, ref storage.Ref)
}

// Recognizer extracts a candidate reading from a photograph
type Recognizer interface {
	Extract(ctx context.Context, image []byte) (ocr.Result, error)
}

// BillRenderer produces the bill PDF
type BillRenderer interface {
	RenderBill(ctx context.Context, b document.Bill) ([]byte, error)
}

// EventPublisher publishes domain events
type EventPublisher interface {
	Publish(ctx context.Context, routingKey string, v any) error
}

// Options are the deployment policies of the core
type Options struct {
	ProximityPolicy     string
	ConsumptionBasis    billing.Basis
	Location            geo.CapturePolicy
	ValidatedRoutingKey string
	RetentionYears      int
	HistoryDepth        int
}

// OptionsFromConfig derives Options from the loaded configuration
func OptionsFromConfig(cfg *config.Config) (Options, error) {
	basis, err := billing.ParseBasis(cfg.Billing.ConsumptionBasis)
	if err != nil {
		return Options{}, err
	}
	return Options{
		ProximityPolicy:  cfg.Proximity.Policy,
		ConsumptionBasis: basis,
		Location: geo.CapturePolicy{
			Attempts: cfg.Location.Attempts,
			Backoff:  cfg.Location.Backoff,
			Timeout:  cfg.Location.Timeout,
		},
		ValidatedRoutingKey: cfg.RabbitMQ.ValidatedRoutingKey,
		RetentionYears:      cfg.Retention.AccountYears,
	}, nil
}

// Deps are the collaborators of the core
type Deps struct {
	Store      Store
	Images     ImageStore
	Documents  DocumentStore
	OCR        Recognizer
	Renderer   BillRenderer
	Dispatcher notify.Dispatcher
	Events     EventPublisher
	Validator  *validator.Validator
	Detector   *anomaly.Detector
	Proximity  *geo.ProximityValidator
}

// Service implements the reading, review and billing pipeline
type Service struct {
	store      Store
	images     ImageStore
	documents  DocumentStore
	ocr        Recognizer
	renderer   BillRenderer
	dispatcher notify.Dispatcher
	events     EventPublisher
	validator  *validator.Validator
	detector   *anomaly.Detector
	proximity  *geo.ProximityValidator
	opts       Options
	now        func() time.Time
	logger     *zap.Logger
}

// New creates the service
func New(deps Deps, opts Options, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.ProximityPolicy == "" {
		opts.ProximityPolicy = config.ProximityPolicyFlag
	}
	if opts.ConsumptionBasis == "" {
		opts.ConsumptionBasis = billing.BasisReading
	}
	if opts.RetentionYears <= 0 {
		opts.RetentionYears = 5
	}
	if opts.HistoryDepth <= 0 {
		opts.HistoryDepth = 12
	}
	if deps.Validator == nil {
		deps.Validator = validator.NewValidator(0)
	}
	if deps.Detector == nil {
		deps.Detector = anomaly.NewDetector(3.0, 3)
	}
	if deps.Proximity == nil {
		deps.Proximity = geo.NewProximityValidator(geo.DefaultMaxDistanceKm)
	}

	return &Service{
		store:      deps.Store,
		images:     deps.Images,
		documents:  deps.Documents,
		ocr:        deps.OCR,
		renderer:   deps.Renderer,
		dispatcher: deps.Dispatcher,
		events:     deps.Events,
		validator:  deps.Validator,
		detector:   deps.Detector,
		proximity:  deps.Proximity,
		opts:       opts,
		now:        time.Now,
		logger:     logger,
	}
}

// settings loads system settings, mapping failures for op
func (s *Service) settings(ctx context.Context, op string) (db.SystemSettings, error) {
	settings, err := s.store.GetSettings(ctx)
	if err != nil {
		return db.SystemSettings{}, wrapError(op, ErrPersistence, err)
	}
	return settings, nil
}
