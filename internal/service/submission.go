package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/septivank/webill/internal/anomaly"
	"github.com/septivank/webill/internal/auth"
	"github.com/septivank/webill/internal/config"
	"github.com/septivank/webill/internal/db"
	"github.com/septivank/webill/internal/geo"
	"github.com/septivank/webill/internal/logging"
	"github.com/septivank/webill/internal/ocr"
	"github.com/septivank/webill/internal/repository"
	"github.com/septivank/webill/internal/storage"
	"github.com/septivank/webill/internal/validator"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// SubmitReadingInput is one reading submitted by a consumer
type SubmitReadingInput struct {
	MeterID       uuid.UUID
	Value         string
	ImageKey      string
	ImageURL      string
	Capture       *geo.Coordinate
	OCRCandidate  string
	OCRConfidence *float64
	Month         int
	Year          int
}

// Submit validates and persists a pending reading. Nothing is persisted on failure.
func (s *Service) Submit(ctx context.Context, sess auth.Session, in SubmitReadingInput) (*db.Reading, error) {
	const op = "Submit"

	logger := logging.WithAccount(s.logger, sess.AccountID.String(), string(sess.Role)).
		With(zap.String("meter_id", in.MeterID.String()))

	meter, err := s.authorizeSubmitter(ctx, op, sess, in.MeterID)
	if err != nil {
		return nil, err
	}

	value, p, result := s.validator.ValidateReading(validator.ReadingInput{
		Value:    in.Value,
		Month:    in.Month,
		Year:     in.Year,
		ImageKey: in.ImageKey,
	}, s.now())
	if !result.IsValid {
		return nil, newError(op, validationSentinel(result.Field), result.Reason)
	}

	exists, err := s.store.ActiveReadingExists(ctx, meter.ID, p.Month, p.Year)
	if err != nil {
		return nil, wrapError(op, ErrPersistence, err)
	}
	if exists {
		return nil, newErrorf(op, ErrDuplicatePeriod, "meter %s period %s", meter.Code, p)
	}

	reading := &db.Reading{
		MeterID:       meter.ID,
		AccountID:     sess.AccountID,
		Value:         value,
		ImageKey:      in.ImageKey,
		ImageURL:      in.ImageURL,
		OCRConfidence: in.OCRConfidence,
		ManualInput:   !(in.OCRCandidate != "" && strings.TrimSpace(in.Value) == in.OCRCandidate),
		Month:         p.Month,
		Year:          p.Year,
		State:         db.ReadingPending,
	}
	if in.Capture != nil {
		lat, lon := in.Capture.Latitude, in.Capture.Longitude
		reading.CaptureLatitude = &lat
		reading.CaptureLongitude = &lon
	}

	proximity := s.proximity.Check(geo.Coordinate{Latitude: meter.Latitude, Longitude: meter.Longitude}, in.Capture)
	reading.DistanceKm = proximity.DistanceKm
	if !proximity.Passed {
		if s.opts.ProximityPolicy == config.ProximityPolicyReject {
			logger.Info("reading rejected by proximity check", zap.String("reason", proximity.Reason))
			return nil, newError(op, ErrProximityViolation, proximity.Reason)
		}
		reading.ProximityFlagged = true
		reading.Flags = append(reading.Flags, "proximity: "+proximity.Reason)
	}

	reading.Flags = append(reading.Flags, s.anomalyFlags(ctx, meter, value.InexactFloat64(), p.Month, p.Year, logger)...)

	if err := s.store.InsertReading(ctx, reading); err != nil {
		if errors.Is(err, repository.ErrUniqueViolation) {
			return nil, newErrorf(op, ErrDuplicatePeriod, "meter %s period %s", meter.Code, p)
		}
		return nil, wrapError(op, ErrPersistence, err)
	}

	logger.Info("reading submitted",
		zap.String("reading_id", reading.ID.String()),
		zap.String("period", p.String()),
		zap.Bool("manual_input", reading.ManualInput),
		zap.Bool("proximity_flagged", reading.ProximityFlagged),
		zap.Int("flags", len(reading.Flags)),
	)
	return reading, nil
}

// authorizeSubmitter checks the caller may submit readings for the meter
func (s *Service) authorizeSubmitter(ctx context.Context, op string, sess auth.Session, meterID uuid.UUID) (*db.Meter, error) {
	if !sess.IsConsumer() {
		return nil, newError(op, ErrForbidden, "only consumers submit readings")
	}

	account, err := s.store.GetAccount(ctx, sess.AccountID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, newError(op, ErrForbidden, "unknown account")
	}
	if err != nil {
		return nil, wrapError(op, ErrPersistence, err)
	}
	if !account.IsEnabled {
		return nil, newError(op, ErrAccountDisabled, "")
	}

	meter, err := s.store.GetMeter(ctx, meterID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, newErrorf(op, ErrInvalidMeter, "meter %s does not exist", meterID)
	}
	if err != nil {
		return nil, wrapError(op, ErrPersistence, err)
	}
	if !meter.IsEnabled {
		return nil, newErrorf(op, ErrInvalidMeter, "meter %s is disabled", meter.Code)
	}
	if meter.ConsumerID == nil || *meter.ConsumerID != account.ID {
		return nil, newErrorf(op, ErrInvalidMeter, "meter %s is not assigned to this account", meter.Code)
	}
	return meter, nil
}

// anomalyFlags computes advisory flags; lookup failures never block a submission
func (s *Service) anomalyFlags(ctx context.Context, meter *db.Meter, value float64, month, year int, logger *zap.Logger) []string {
	history, err := s.store.AcceptedHistory(ctx, meter.ID, month, year, s.opts.HistoryDepth)
	if err != nil {
		logger.Warn("failed to load accepted history for anomaly detection", zap.Error(err))
		return nil
	}

	settings, err := s.store.GetSettings(ctx)
	if err != nil {
		logger.Warn("failed to load settings for anomaly detection", zap.Error(err))
		settings = db.DefaultSettings()
	}

	accepted := make([]anomaly.Accepted, 0, len(history))
	for _, r := range history {
		accepted = append(accepted, anomaly.Accepted{Value: r.Value.InexactFloat64(), SubmittedAt: r.CreatedAt})
	}

	flags := s.detector.Inspect(value, s.now(), accepted, anomaly.IntervalWindow{
		MinDays: settings.MinReadingIntervalDays,
		MaxDays: settings.MaxReadingIntervalDays,
	})
	if len(flags) > 0 {
		logger.Debug("reading flagged", zap.Strings("flags", flags))
	}
	return flags
}

func validationSentinel(field validator.Field) error {
	switch field {
	case validator.FieldPeriod:
		return ErrInvalidPeriod
	case validator.FieldImage:
		return ErrInvalidImage
	}
	return ErrInvalidValue
}

// CaptureInput is the full capture submitted from the consumer's device
type CaptureInput struct {
	MeterID  uuid.UUID
	Value    string
	Image    storage.Image
	Location geo.Locator
	Month    int
	Year     int
}

// CaptureResult is the persisted reading plus the recognition outcome
type CaptureResult struct {
	Reading *db.Reading `json:"reading"`
	OCR     ocr.Result  `json:"ocr"`
}

// Capture runs the whole pipeline: locate, store the photo and recognize it
// concurrently, resolve the value, then Submit.
func (s *Service) Capture(ctx context.Context, sess auth.Session, in CaptureInput) (*CaptureResult, error) {
	const op = "Capture"

	logger := logging.WithAccount(s.logger, sess.AccountID.String(), string(sess.Role)).
		With(zap.String("meter_id", in.MeterID.String()))

	if _, err := s.authorizeSubmitter(ctx, op, sess, in.MeterID); err != nil {
		return nil, err
	}
	if _, err := s.images.Validate(in.Image); err != nil {
		return nil, wrapError(op, ErrInvalidImage, err)
	}

	var capture *geo.Coordinate
	if in.Location != nil {
		coord, err := geo.Capture(ctx, in.Location, s.opts.Location)
		if err != nil {
			logger.Info("location capture failed", zap.Error(err))
		} else {
			capture = &coord
		}
	}

	var (
		ref        storage.Ref
		recognized ocr.Result
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		ref, err = s.images.Put(gctx, in.Image)
		return err
	})
	if s.ocr != nil {
		g.Go(func() error {
			res, err := s.ocr.Extract(gctx, in.Image.Data)
			if err != nil {
				logger.Warn("ocr failed, falling back to manual entry", zap.Error(err))
				return nil
			}
			recognized = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if errors.Is(err, storage.ErrInvalidImage) || errors.Is(err, storage.ErrObjectTooLarge) {
			return nil, wrapError(op, ErrInvalidImage, err)
		}
		return nil, wrapError(op, ErrStorageUnavailable, err)
	}

	// the photo key is unique to this capture, so discarding it never
	// breaks another reading
	cleanup := func() {
		s.images.Discard(context.WithoutCancel(ctx), ref)
	}

	if err := ctx.Err(); err != nil {
		cleanup()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	value := strings.TrimSpace(in.Value)
	if value == "" {
		if !recognized.Found {
			cleanup()
			return nil, newError(op, ErrInvalidValue, "no value entered and none recognized in the photo")
		}
		value = recognized.Candidate
	}

	var confidence *float64
	if recognized.Found {
		confidence = recognized.Confidence
	}

	reading, err := s.Submit(ctx, sess, SubmitReadingInput{
		MeterID:       in.MeterID,
		Value:         value,
		ImageKey:      ref.Key,
		ImageURL:      ref.URL,
		Capture:       capture,
		OCRCandidate:  recognized.Candidate,
		OCRConfidence: confidence,
		Month:         in.Month,
		Year:          in.Year,
	})
	if err != nil {
		cleanup()
		return nil, err
	}

	return &CaptureResult{Reading: reading, OCR: recognized}, nil
}

// Scan previews recognition for a photo without storing anything
func (s *Service) Scan(ctx context.Context, sess auth.Session, img storage.Image) (ocr.Result, error) {
	const op = "Scan"

	if !sess.IsConsumer() && !sess.IsAdmin() {
		return ocr.Result{}, newError(op, ErrForbidden, "")
	}
	if _, err := s.images.Validate(img); err != nil {
		return ocr.Result{}, wrapError(op, ErrInvalidImage, err)
	}
	if s.ocr == nil {
		return ocr.Result{}, nil
	}

	res, err := s.ocr.Extract(ctx, img.Data)
	if err != nil {
		s.logger.Warn("ocr preview failed", zap.Error(err))
		return ocr.Result{}, nil
	}
	return res, nil
}

// ReadingQuery narrows ListReadings
type ReadingQuery struct {
	MeterID *uuid.UUID
	State   *db.ReadingState
	Limit   int
	Offset  int
}

// ListReadings returns the caller's readings, or all readings for admins
func (s *Service) ListReadings(ctx context.Context, sess auth.Session, q ReadingQuery) ([]db.Reading, error) {
	const op = "ListReadings"

	filter := repository.ReadingFilter{
		MeterID: q.MeterID,
		State:   q.State,
		Limit:   q.Limit,
		Offset:  q.Offset,
	}
	switch {
	case sess.IsAdmin():
	case sess.IsConsumer():
		id := sess.AccountID
		filter.AccountID = &id
	default:
		return nil, newError(op, ErrForbidden, "")
	}

	readings, err := s.store.ListReadings(ctx, filter)
	if err != nil {
		return nil, wrapError(op, ErrPersistence, err)
	}
	return readings, nil
}
