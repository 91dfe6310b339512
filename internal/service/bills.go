package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/septivank/webill/internal/auth"
	"github.com/septivank/webill/internal/billing"
	"github.com/septivank/webill/internal/db"
	"github.com/septivank/webill/internal/document"
	"github.com/septivank/webill/internal/logging"
	"github.com/septivank/webill/internal/notify"
	"github.com/septivank/webill/internal/repository"
	"github.com/septivank/webill/internal/storage"
	"github.com/septivank/webill/tools/period"
	"go.uber.org/zap"
)

// GenerateBill bills a validated reading exactly once
func (s *Service) GenerateBill(ctx context.Context, sess auth.Session, readingID uuid.UUID) (*db.Bill, error) {
	const op = "GenerateBill"

	if !sess.IsAdmin() {
		return nil, newError(op, ErrForbidden, "only admins generate bills")
	}
	logger := logging.WithReading(s.logger, readingID.String()).With(zap.Bool("system", sess.System))

	reading, err := s.store.GetReading(ctx, readingID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, newErrorf(op, ErrNotFound, "reading %s", readingID)
	}
	if err != nil {
		return nil, wrapError(op, ErrPersistence, err)
	}
	if reading.State != db.ReadingValidated {
		return nil, newErrorf(op, ErrReadingNotValidated, "reading is %s", reading.State)
	}

	_, err = s.store.GetBillByReading(ctx, reading.ID)
	switch {
	case err == nil:
		return nil, newError(op, ErrAlreadyBilled, "")
	case !errors.Is(err, repository.ErrNotFound):
		return nil, wrapError(op, ErrPersistence, err)
	}

	meter, account, err := s.billParties(ctx, op, reading)
	if err != nil {
		return nil, err
	}

	settings, err := s.settings(ctx, op)
	if err != nil {
		return nil, err
	}

	rate := billing.ResolveRate(meter.UnitRate, settings.BillingRate)
	input := billing.Input{Value: reading.Value, Rate: rate, Basis: s.opts.ConsumptionBasis}
	if s.opts.ConsumptionBasis == billing.BasisDelta {
		history, err := s.store.AcceptedHistory(ctx, meter.ID, reading.Month, reading.Year, 1)
		if err != nil {
			return nil, wrapError(op, ErrPersistence, err)
		}
		if len(history) > 0 {
			input.Previous = &history[0].Value
		}
	}

	charge, err := billing.Calculate(input)
	if err != nil {
		if errors.Is(err, billing.ErrNegativeConsumption) {
			return nil, wrapError(op, ErrNegativeConsumption, err)
		}
		return nil, wrapError(op, ErrInvalidSettings, err)
	}

	issuedAt := s.now().UTC()
	bill := &db.Bill{
		ID:          uuid.New(),
		ReadingID:   reading.ID,
		AccountID:   reading.AccountID,
		MeterID:     meter.ID,
		Consumption: charge.Consumption,
		Amount:      charge.Amount,
		UnitRate:    rate,
		IssuedAt:    issuedAt,
		DueDate:     billing.DueDate(issuedAt, settings.PaymentGracePeriodDays),
	}

	pdf, err := s.renderer.RenderBill(ctx, billDocument(bill, reading, meter, account))
	if err != nil {
		return nil, wrapError(op, ErrRenderFailed, err)
	}

	ref, err := s.documents.PutBill(ctx, storage.BillKey(meter.Code, reading.Month, reading.Year, bill.ID), pdf)
	if err != nil {
		return nil, wrapError(op, ErrStorageUnavailable, err)
	}
	bill.DocumentKey = ref.Key
	bill.DocumentURL = ref.URL

	if err := s.store.InsertBill(ctx, bill); err != nil {
		s.documents.Delete(context.WithoutCancel(ctx), ref)
		if errors.Is(err, repository.ErrUniqueViolation) {
			return nil, newError(op, ErrAlreadyBilled, "")
		}
		return nil, wrapError(op, ErrPersistence, err)
	}

	logger.Info("bill generated",
		zap.String("bill_id", bill.ID.String()),
		zap.String("amount", bill.Amount.StringFixed(2)),
		zap.String("consumption", bill.Consumption.String()),
		zap.Time("due_date", bill.DueDate),
	)

	if settings.EnableNotifications {
		s.notifyBill(ctx, bill, reading, meter, account, logger)
	}
	return bill, nil
}

// billParties loads the meter and consumer a bill is addressed to
func (s *Service) billParties(ctx context.Context, op string, reading *db.Reading) (*db.Meter, *db.Account, error) {
	meter, err := s.store.GetMeter(ctx, reading.MeterID)
	if err != nil {
		return nil, nil, wrapError(op, ErrPersistence, err)
	}
	account, err := s.store.GetAccount(ctx, reading.AccountID)
	if err != nil {
		return nil, nil, wrapError(op, ErrPersistence, err)
	}
	return meter, account, nil
}

func billDocument(bill *db.Bill, reading *db.Reading, meter *db.Meter, account *db.Account) document.Bill {
	return document.Bill{
		BillNumber:   bill.ID.String(),
		MeterID:      meter.ID.String(),
		MeterCode:    meter.Code,
		Location:     meter.Location,
		ConsumerName: account.FullName(),
		Email:        account.Email,
		Address:      account.Address,
		Period:       period.Period{Month: reading.Month, Year: reading.Year}.String(),
		Reading:      reading.Value,
		Consumption:  bill.Consumption,
		UnitRate:     bill.UnitRate,
		Amount:       bill.Amount,
		IssuedAt:     bill.IssuedAt,
		DueDate:      bill.DueDate,
	}
}

// notifyBill dispatches the bill notice. Failures are recorded on the bill for
// RetryNotifications and never undo the bill.
func (s *Service) notifyBill(ctx context.Context, bill *db.Bill, reading *db.Reading, meter *db.Meter, account *db.Account, logger *zap.Logger) bool {
	if s.dispatcher == nil {
		return false
	}

	notice := notify.BillNotice{
		BillID:      bill.ID.String(),
		ReadingID:   reading.ID.String(),
		MeterID:     meter.ID.String(),
		MeterCode:   meter.Code,
		Email:       account.Email,
		Name:        account.FullName(),
		Period:      period.Period{Month: reading.Month, Year: reading.Year}.String(),
		Amount:      bill.Amount.StringFixed(2),
		DueDate:     bill.DueDate,
		DocumentURL: bill.DocumentURL,
	}

	if err := s.dispatcher.DispatchBill(ctx, notice); err != nil {
		logger.Error("failed to dispatch bill notice", zap.Error(err), zap.String("bill_id", notice.BillID))
		reason := err.Error()
		bill.NotifyError = &reason
		if markErr := s.store.MarkBillNotifyFailed(context.WithoutCancel(ctx), bill.ID, reason); markErr != nil {
			logger.Error("failed to record notify error", zap.Error(markErr), zap.String("bill_id", notice.BillID))
		}
		return false
	}

	at := s.now().UTC()
	bill.NotifiedAt = &at
	bill.NotifyError = nil
	if err := s.store.MarkBillNotified(context.WithoutCancel(ctx), bill.ID, at); err != nil {
		logger.Error("failed to record notification", zap.Error(err), zap.String("bill_id", notice.BillID))
	}
	return true
}

// SetBillPaid toggles the paid flag, the only mutable bill field
func (s *Service) SetBillPaid(ctx context.Context, sess auth.Session, billID uuid.UUID, paid bool) (*db.Bill, error) {
	const op = "SetBillPaid"

	if !sess.IsAdmin() {
		return nil, newError(op, ErrForbidden, "only admins change payment status")
	}

	bill, err := s.store.SetBillPaid(ctx, billID, paid)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, newErrorf(op, ErrNotFound, "bill %s", billID)
	}
	if err != nil {
		return nil, wrapError(op, ErrPersistence, err)
	}

	s.logger.Info("bill payment status changed", zap.String("bill_id", billID.String()), zap.Bool("paid", paid))
	return bill, nil
}

// ListBills returns the caller's bills, or all bills for admins
func (s *Service) ListBills(ctx context.Context, sess auth.Session, limit, offset int) ([]db.Bill, error) {
	const op = "ListBills"

	var accountID *uuid.UUID
	switch {
	case sess.IsAdmin():
	case sess.IsConsumer():
		id := sess.AccountID
		accountID = &id
	default:
		return nil, newError(op, ErrForbidden, "")
	}

	bills, err := s.store.ListBills(ctx, accountID, limit, offset)
	if err != nil {
		return nil, wrapError(op, ErrPersistence, err)
	}
	return bills, nil
}

// RetryReport summarizes a notification retry run
type RetryReport struct {
	Attempted int
	Sent      int
	Failed    int
}

// RetryNotifications re-dispatches notices for bills never successfully notified
func (s *Service) RetryNotifications(ctx context.Context, limit int) (RetryReport, error) {
	const op = "RetryNotifications"

	var report RetryReport
	settings, err := s.settings(ctx, op)
	if err != nil {
		return report, err
	}
	if !settings.EnableNotifications {
		s.logger.Info("notifications disabled, skipping retry")
		return report, nil
	}

	bills, err := s.store.ListUnnotifiedBills(ctx, limit)
	if err != nil {
		return report, wrapError(op, ErrPersistence, err)
	}

	for i := range bills {
		if ctx.Err() != nil {
			return report, fmt.Errorf("%s: %w", op, ctx.Err())
		}
		bill := &bills[i]
		logger := logging.WithBill(s.logger, bill.ID.String())
		report.Attempted++

		reading, err := s.store.GetReading(ctx, bill.ReadingID)
		if err != nil {
			logger.Error("failed to load reading for bill notice", zap.Error(err))
			report.Failed++
			continue
		}
		meter, account, err := s.billParties(ctx, op, reading)
		if err != nil {
			logger.Error("failed to load bill recipient", zap.Error(err))
			report.Failed++
			continue
		}

		if s.notifyBill(ctx, bill, reading, meter, account, logger) {
			report.Sent++
		} else {
			report.Failed++
		}
	}

	s.logger.Info("notification retry finished",
		zap.Int("attempted", report.Attempted),
		zap.Int("sent", report.Sent),
		zap.Int("failed", report.Failed),
	)
	return report, nil
}
