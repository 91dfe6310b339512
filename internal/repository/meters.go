package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/septivank/webill/internal/db"
)

const meterColumns = `id, code, latitude, longitude, unit_rate::text, is_enabled, consumer_id, location, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMeter(row rowScanner) (*db.Meter, error) {
	var m db.Meter
	var rate *string
	if err := row.Scan(
		&m.ID,
		&m.Code,
		&m.Latitude,
		&m.Longitude,
		&rate,
		&m.IsEnabled,
		&m.ConsumerID,
		&m.Location,
		&m.CreatedAt,
		&m.UpdatedAt,
	); err != nil {
		return nil, err
	}
	unitRate, err := parseNullableDecimal(rate)
	if err != nil {
		return nil, err
	}
	m.UnitRate = unitRate
	return &m, nil
}

// GetMeter loads a meter by id
func (r *Repository) GetMeter(ctx context.Context, id uuid.UUID) (*db.Meter, error) {
	query := `SELECT ` + meterColumns + ` FROM meters WHERE id = $1`

	m, err := scanMeter(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		return nil, mapError(err, "get meter")
	}
	return m, nil
}

// AssignMeter sets the meter's consumer unless another consumer already holds it.
// It reports false when the meter is held by someone else.
func (r *Repository) AssignMeter(ctx context.Context, meterID, consumerID uuid.UUID) (bool, error) {
	query := `
		UPDATE meters
		SET consumer_id = $2, updated_at = $3
		WHERE id = $1 AND (consumer_id IS NULL OR consumer_id = $2)
	`

	tag, err := r.pool.Exec(ctx, query, meterID, consumerID, time.Now().UTC())
	if err != nil {
		return false, mapError(err, "assign meter")
	}
	return tag.RowsAffected() == 1, nil
}

// UnassignMeter clears the meter's consumer
func (r *Repository) UnassignMeter(ctx context.Context, meterID uuid.UUID) error {
	query := `UPDATE meters SET consumer_id = NULL, updated_at = $2 WHERE id = $1`

	tag, err := r.pool.Exec(ctx, query, meterID, time.Now().UTC())
	if err != nil {
		return mapError(err, "unassign meter")
	}
	if tag.RowsAffected() == 0 {
		return mapError(errNoRows, "unassign meter")
	}
	return nil
}

// ListMetersMissingReading returns enabled, assigned meters without an active reading in the period
func (r *Repository) ListMetersMissingReading(ctx context.Context, month, year int) ([]db.Meter, error) {
	query := `
		SELECT ` + meterColumns + `
		FROM meters m
		WHERE m.is_enabled = TRUE
		  AND m.consumer_id IS NOT NULL
		  AND NOT EXISTS (
			SELECT 1 FROM readings rd
			WHERE rd.meter_id = m.id AND rd.month = $1 AND rd.year = $2
			  AND rd.state IN ('pending', 'validated')
		  )
		ORDER BY m.code
	`

	rows, err := r.pool.Query(ctx, query, month, year)
	if err != nil {
		return nil, mapError(err, "query meters missing reading")
	}
	defer rows.Close()

	var meters []db.Meter
	for rows.Next() {
		m, err := scanMeter(rows)
		if err != nil {
			return nil, mapError(err, "scan meter")
		}
		meters = append(meters, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err, "iterate meters")
	}
	return meters, nil
}
