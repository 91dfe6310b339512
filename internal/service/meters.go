package service

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/septivank/webill/internal/auth"
	"github.com/septivank/webill/internal/db"
	"github.com/septivank/webill/internal/document"
	"github.com/septivank/webill/internal/repository"
	"go.uber.org/zap"
)

// AssignMeter gives an unassigned meter to a consumer
func (s *Service) AssignMeter(ctx context.Context, sess auth.Session, meterID, consumerID uuid.UUID) (*db.Meter, error) {
	const op = "AssignMeter"

	if !sess.IsAdmin() {
		return nil, newError(op, ErrForbidden, "only admins assign meters")
	}

	account, err := s.store.GetAccount(ctx, consumerID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, newErrorf(op, ErrNotFound, "account %s", consumerID)
	}
	if err != nil {
		return nil, wrapError(op, ErrPersistence, err)
	}
	if account.Role != db.RoleConsumer {
		return nil, newErrorf(op, ErrInvalidAccount, "account role is %s", account.Role)
	}
	if !account.IsEnabled {
		return nil, newError(op, ErrAccountDisabled, "target account is disabled")
	}

	meter, err := s.store.GetMeter(ctx, meterID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, newErrorf(op, ErrNotFound, "meter %s", meterID)
	}
	if err != nil {
		return nil, wrapError(op, ErrPersistence, err)
	}
	if !meter.IsEnabled {
		return nil, newErrorf(op, ErrInvalidMeter, "meter %s is disabled", meter.Code)
	}

	ok, err := s.store.AssignMeter(ctx, meterID, consumerID)
	if err != nil {
		return nil, wrapError(op, ErrPersistence, err)
	}
	if !ok {
		return nil, newErrorf(op, ErrMeterAssigned, "meter %s", meter.Code)
	}

	s.logger.Info("meter assigned", zap.String("meter_id", meterID.String()), zap.String("consumer_id", consumerID.String()))
	meter.ConsumerID = &consumerID
	return meter, nil
}

// UnassignMeter clears a meter's consumer
func (s *Service) UnassignMeter(ctx context.Context, sess auth.Session, meterID uuid.UUID) error {
	const op = "UnassignMeter"

	if !sess.IsAdmin() {
		return newError(op, ErrForbidden, "only admins unassign meters")
	}

	err := s.store.UnassignMeter(ctx, meterID)
	if errors.Is(err, repository.ErrNotFound) {
		return newErrorf(op, ErrNotFound, "meter %s", meterID)
	}
	if err != nil {
		return wrapError(op, ErrPersistence, err)
	}

	s.logger.Info("meter unassigned", zap.String("meter_id", meterID.String()))
	return nil
}

// MeterQRCode renders the QR label for a meter as a PNG
func (s *Service) MeterQRCode(ctx context.Context, sess auth.Session, meterID uuid.UUID, size int) ([]byte, error) {
	const op = "MeterQRCode"

	if !sess.IsAdmin() {
		return nil, newError(op, ErrForbidden, "only admins print meter labels")
	}
	if size == 0 {
		size = document.DefaultQRSize
	}

	meter, err := s.store.GetMeter(ctx, meterID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, newErrorf(op, ErrNotFound, "meter %s", meterID)
	}
	if err != nil {
		return nil, wrapError(op, ErrPersistence, err)
	}

	png, err := document.MeterQRCode(meter.ID.String(), size)
	if errors.Is(err, document.ErrQRSize) {
		return nil, newErrorf(op, ErrInvalidQRSize, "size must be between %d and %d", document.MinQRSize, document.MaxQRSize)
	}
	if err != nil {
		return nil, wrapError(op, ErrRenderFailed, err)
	}
	return png, nil
}
