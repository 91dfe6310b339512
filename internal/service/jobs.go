package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/septivank/webill/internal/auth"
	"github.com/septivank/webill/internal/logging"
	"github.com/septivank/webill/internal/mq"
	"github.com/septivank/webill/internal/notify"
	"github.com/septivank/webill/tools/period"
	"go.uber.org/zap"
)

// PurgeAccounts hard-deletes accounts disabled longer than the retention window
func (s *Service) PurgeAccounts(ctx context.Context, now time.Time) (int64, error) {
	const op = "PurgeAccounts"

	cutoff := now.UTC().AddDate(-s.opts.RetentionYears, 0, 0)
	n, err := s.store.PurgeDisabledAccounts(ctx, cutoff)
	if err != nil {
		return 0, wrapError(op, ErrPersistence, err)
	}

	s.logger.Info("disabled accounts purged", zap.Int64("count", n), zap.Time("cutoff", cutoff))
	return n, nil
}

// SendReminders asks consumers without a reading this period to submit one,
// once the reading due day has been reached.
func (s *Service) SendReminders(ctx context.Context, now time.Time) (int, error) {
	const op = "SendReminders"

	settings, err := s.settings(ctx, op)
	if err != nil {
		return 0, err
	}
	if !settings.EnableReadingReminders || s.dispatcher == nil {
		s.logger.Info("reading reminders disabled")
		return 0, nil
	}
	if !period.DueDayReached(now, settings.ReadingDueDay) {
		s.logger.Info("reading due day not reached", zap.Int("due_day", settings.ReadingDueDay))
		return 0, nil
	}

	p := period.Of(now)
	meters, err := s.store.ListMetersMissingReading(ctx, p.Month, p.Year)
	if err != nil {
		return 0, wrapError(op, ErrPersistence, err)
	}

	sent := 0
	for _, meter := range meters {
		if meter.ConsumerID == nil {
			continue
		}
		logger := s.logger.With(zap.String("meter_id", meter.ID.String()))

		account, err := s.store.GetAccount(ctx, *meter.ConsumerID)
		if err != nil {
			logger.Error("failed to load meter consumer", zap.Error(err))
			continue
		}
		if !account.IsEnabled {
			continue
		}

		err = s.dispatcher.DispatchReminder(ctx, notify.ReadingReminder{
			AccountID: account.ID.String(),
			MeterID:   meter.ID.String(),
			MeterCode: meter.Code,
			Email:     account.Email,
			Name:      account.FullName(),
			Period:    p.String(),
			DueDay:    settings.ReadingDueDay,
		})
		if err != nil {
			logger.Error("failed to dispatch reading reminder", zap.Error(err))
			continue
		}
		sent++
	}

	s.logger.Info("reading reminders sent", zap.Int("sent", sent), zap.Int("candidates", len(meters)), zap.String("period", p.String()))
	return sent, nil
}

// HandleReadingValidated bills a reading from a reading.validated event when
// auto-billing is enabled. Outcomes that a redelivery cannot change are acknowledged.
func (s *Service) HandleReadingValidated(ctx context.Context, body []byte) error {
	var event mq.ReadingValidatedEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return fmt.Errorf("failed to unmarshal message: %w", err)
	}

	readingID, err := uuid.Parse(event.ReadingID)
	if err != nil {
		return fmt.Errorf("invalid reading id %q: %w", event.ReadingID, err)
	}

	logger := logging.WithReading(s.logger, event.ReadingID)

	settings, err := s.settings(ctx, "HandleReadingValidated")
	if err != nil {
		return err
	}
	if !settings.EnableAutoBilling {
		logger.Debug("auto-billing disabled, skipping")
		return nil
	}

	bill, err := s.GenerateBill(ctx, auth.SystemSession(), readingID)
	switch {
	case err == nil:
		logger.Info("auto-billed reading", zap.String("bill_id", bill.ID.String()))
		return nil
	case errors.Is(err, ErrAlreadyBilled), errors.Is(err, ErrReadingNotValidated), errors.Is(err, ErrNotFound):
		logger.Info("reading not billable, acknowledging", zap.Error(err))
		return nil
	}
	return err
}
