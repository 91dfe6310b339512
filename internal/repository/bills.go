package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/septivank/webill/internal/db"
)

const billColumns = `
	id, reading_id, account_id, meter_id, consumption::text, amount::text, unit_rate::text,
	issued_at, due_date, paid, document_key, document_url, notified_at, notify_error,
	created_at, updated_at`

func scanBill(row rowScanner) (*db.Bill, error) {
	var b db.Bill
	var consumption, amount, rate string
	if err := row.Scan(
		&b.ID,
		&b.ReadingID,
		&b.AccountID,
		&b.MeterID,
		&consumption,
		&amount,
		&rate,
		&b.IssuedAt,
		&b.DueDate,
		&b.Paid,
		&b.DocumentKey,
		&b.DocumentURL,
		&b.NotifiedAt,
		&b.NotifyError,
		&b.CreatedAt,
		&b.UpdatedAt,
	); err != nil {
		return nil, err
	}

	var err error
	if b.Consumption, err = parseDecimal(consumption); err != nil {
		return nil, err
	}
	if b.Amount, err = parseDecimal(amount); err != nil {
		return nil, err
	}
	if b.UnitRate, err = parseDecimal(rate); err != nil {
		return nil, err
	}
	return &b, nil
}

// InsertBill persists a bill. A second bill for the same reading yields ErrUniqueViolation.
func (r *Repository) InsertBill(ctx context.Context, bill *db.Bill) error {
	query := `
		INSERT INTO bills (
			id, reading_id, account_id, meter_id, consumption, amount, unit_rate,
			issued_at, due_date, paid, document_key, document_url, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $13)
		RETURNING created_at, updated_at
	`

	if bill.ID == uuid.Nil {
		bill.ID = uuid.New()
	}
	now := time.Now().UTC()
	err := r.pool.QueryRow(ctx, query,
		bill.ID,
		bill.ReadingID,
		bill.AccountID,
		bill.MeterID,
		bill.Consumption.String(),
		bill.Amount.StringFixed(2),
		bill.UnitRate.String(),
		bill.IssuedAt.UTC(),
		bill.DueDate.UTC(),
		bill.Paid,
		bill.DocumentKey,
		bill.DocumentURL,
		now,
	).Scan(&bill.CreatedAt, &bill.UpdatedAt)
	if err != nil {
		return mapError(err, "insert bill")
	}
	return nil
}

// GetBill loads a bill by id
func (r *Repository) GetBill(ctx context.Context, id uuid.UUID) (*db.Bill, error) {
	query := `SELECT ` + billColumns + ` FROM bills WHERE id = $1`

	b, err := scanBill(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		return nil, mapError(err, "get bill")
	}
	return b, nil
}

// GetBillByReading loads the bill derived from a reading
func (r *Repository) GetBillByReading(ctx context.Context, readingID uuid.UUID) (*db.Bill, error) {
	query := `SELECT ` + billColumns + ` FROM bills WHERE reading_id = $1`

	b, err := scanBill(r.pool.QueryRow(ctx, query, readingID))
	if err != nil {
		return nil, mapError(err, "get bill by reading")
	}
	return b, nil
}

// SetBillPaid updates the paid flag
func (r *Repository) SetBillPaid(ctx context.Context, id uuid.UUID, paid bool) (*db.Bill, error) {
	query := `
		UPDATE bills SET paid = $2, updated_at = $3
		WHERE id = $1
		RETURNING ` + billColumns

	b, err := scanBill(r.pool.QueryRow(ctx, query, id, paid, time.Now().UTC()))
	if err != nil {
		return nil, mapError(err, "set bill paid")
	}
	return b, nil
}

// MarkBillNotified records a successful notification
func (r *Repository) MarkBillNotified(ctx context.Context, id uuid.UUID, at time.Time) error {
	query := `UPDATE bills SET notified_at = $2, notify_error = NULL, updated_at = $2 WHERE id = $1`

	if _, err := r.pool.Exec(ctx, query, id, at.UTC()); err != nil {
		return mapError(err, "mark bill notified")
	}
	return nil
}

// MarkBillNotifyFailed records a failed notification attempt
func (r *Repository) MarkBillNotifyFailed(ctx context.Context, id uuid.UUID, reason string) error {
	query := `UPDATE bills SET notify_error = $2, updated_at = $3 WHERE id = $1`

	if _, err := r.pool.Exec(ctx, query, id, reason, time.Now().UTC()); err != nil {
		return mapError(err, "mark bill notify failed")
	}
	return nil
}

// ListUnnotifiedBills returns bills never successfully notified, oldest first
func (r *Repository) ListUnnotifiedBills(ctx context.Context, limit int) ([]db.Bill, error) {
	query := `
		SELECT ` + billColumns + `
		FROM bills
		WHERE notified_at IS NULL
		ORDER BY created_at
		LIMIT $1
	`

	return r.queryBills(ctx, query, limit)
}

// ListBills returns bills newest first, optionally for a single account
func (r *Repository) ListBills(ctx context.Context, accountID *uuid.UUID, limit, offset int) ([]db.Bill, error) {
	query := `
		SELECT ` + billColumns + `
		FROM bills
		WHERE ($1::uuid IS NULL OR account_id = $1)
		ORDER BY issued_at DESC
		LIMIT $2 OFFSET $3
	`

	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return r.queryBills(ctx, query, accountID, limit, offset)
}

func (r *Repository) queryBills(ctx context.Context, query string, args ...any) ([]db.Bill, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, mapError(err, "query bills")
	}
	defer rows.Close()

	bills := []db.Bill{}
	for rows.Next() {
		b, err := scanBill(rows)
		if err != nil {
			return nil, mapError(err, "scan bill")
		}
		bills = append(bills, *b)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err, "iterate bills")
	}
	return bills, nil
}
