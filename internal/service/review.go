package service

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/septivank/webill/internal/auth"
	"github.com/septivank/webill/internal/db"
	"github.com/septivank/webill/internal/logging"
	"github.com/septivank/webill/internal/mq"
	"github.com/septivank/webill/internal/repository"
	"go.uber.org/zap"
)

// Decision is an admin verdict on a pending reading
type Decision struct {
	Accept  bool     `json:"accept"`
	Reasons []string `json:"reasons"`
}

// Decide moves a pending reading to validated or rejected. A decided reading
// keeps its first decision.
func (s *Service) Decide(ctx context.Context, sess auth.Session, readingID uuid.UUID, d Decision) (*db.Reading, error) {
	const op = "Decide"

	if !sess.IsAdmin() || sess.System {
		return nil, newError(op, ErrForbidden, "only admins decide readings")
	}

	var reasons []string
	for _, r := range d.Reasons {
		if r = strings.TrimSpace(r); r != "" {
			reasons = append(reasons, r)
		}
	}

	state := db.ReadingValidated
	if !d.Accept {
		state = db.ReadingRejected
		if len(reasons) == 0 {
			return nil, newError(op, ErrMissingReasons, "")
		}
	} else {
		reasons = nil
	}

	reading, ok, err := s.store.DecideReading(ctx, readingID, state, sess.AccountID, reasons, s.now().UTC())
	if err != nil {
		return nil, wrapError(op, ErrPersistence, err)
	}
	if !ok {
		current, err := s.store.GetReading(ctx, readingID)
		if errors.Is(err, repository.ErrNotFound) {
			return nil, newErrorf(op, ErrNotFound, "reading %s", readingID)
		}
		if err != nil {
			return nil, wrapError(op, ErrPersistence, err)
		}
		return nil, newErrorf(op, ErrAlreadyDecided, "reading is %s", current.State)
	}

	logger := logging.WithAccount(s.logger, sess.AccountID.String(), string(sess.Role))
	logger.Info("reading decided",
		zap.String("reading_id", reading.ID.String()),
		zap.String("state", string(reading.State)),
		zap.Strings("reasons", reasons),
	)

	if reading.State == db.ReadingValidated {
		s.publishValidated(ctx, reading, logger)
	}
	return reading, nil
}

// publishValidated emits reading.validated after the decision is committed; failures are logged only
func (s *Service) publishValidated(ctx context.Context, reading *db.Reading, logger *zap.Logger) {
	if s.events == nil || s.opts.ValidatedRoutingKey == "" {
		return
	}

	event := mq.ReadingValidatedEvent{
		ReadingID: reading.ID.String(),
		MeterID:   reading.MeterID.String(),
		AccountID: reading.AccountID.String(),
		Month:     reading.Month,
		Year:      reading.Year,
		Value:     reading.Value.String(),
	}
	if reading.DecidedBy != nil {
		event.DecidedBy = reading.DecidedBy.String()
	}
	if reading.DecidedAt != nil {
		event.DecidedAt = *reading.DecidedAt
	}

	if err := s.events.Publish(ctx, s.opts.ValidatedRoutingKey, event); err != nil {
		logger.Error("failed to publish reading validated event",
			zap.Error(err),
			zap.String("reading_id", event.ReadingID),
		)
	}
}
