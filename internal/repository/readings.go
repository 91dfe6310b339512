package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/septivank/webill/internal/db"
)

var errNoRows = pgx.ErrNoRows

const readingColumns = `
	id, meter_id, account_id, value::text, image_key, image_url,
	capture_latitude, capture_longitude, distance_km, proximity_flagged, ocr_confidence,
	manual_input, month, year, state, flags, validation_errors, decided_by, decided_at,
	created_at, updated_at`

func scanReading(row rowScanner) (*db.Reading, error) {
	var rd db.Reading
	var value, state string
	var month, year int16
	if err := row.Scan(
		&rd.ID,
		&rd.MeterID,
		&rd.AccountID,
		&value,
		&rd.ImageKey,
		&rd.ImageURL,
		&rd.CaptureLatitude,
		&rd.CaptureLongitude,
		&rd.DistanceKm,
		&rd.ProximityFlagged,
		&rd.OCRConfidence,
		&rd.ManualInput,
		&month,
		&year,
		&state,
		&rd.Flags,
		&rd.ValidationErrors,
		&rd.DecidedBy,
		&rd.DecidedAt,
		&rd.CreatedAt,
		&rd.UpdatedAt,
	); err != nil {
		return nil, err
	}
	v, err := parseDecimal(value)
	if err != nil {
		return nil, err
	}
	rd.Value = v
	rd.Month = int(month)
	rd.Year = int(year)
	rd.State = db.ReadingState(state)
	return &rd, nil
}

// InsertReading persists a new reading and fills its id and timestamps
func (r *Repository) InsertReading(ctx context.Context, reading *db.Reading) error {
	query := `
		INSERT INTO readings (
			meter_id, account_id, value, image_key, image_url,
			capture_latitude, capture_longitude, distance_km, proximity_flagged, ocr_confidence,
			manual_input, month, year, state, flags, validation_errors, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $17)
		RETURNING id, created_at, updated_at
	`

	now := time.Now().UTC()
	flags := reading.Flags
	if flags == nil {
		flags = []string{}
	}

	err := r.pool.QueryRow(ctx, query,
		reading.MeterID,
		reading.AccountID,
		reading.Value.String(),
		reading.ImageKey,
		reading.ImageURL,
		reading.CaptureLatitude,
		reading.CaptureLongitude,
		reading.DistanceKm,
		reading.ProximityFlagged,
		reading.OCRConfidence,
		reading.ManualInput,
		reading.Month,
		reading.Year,
		string(reading.State),
		flags,
		[]string{},
		now,
	).Scan(&reading.ID, &reading.CreatedAt, &reading.UpdatedAt)
	if err != nil {
		return mapError(err, "insert reading")
	}
	return nil
}

// GetReading loads a reading by id
func (r *Repository) GetReading(ctx context.Context, id uuid.UUID) (*db.Reading, error) {
	query := `SELECT ` + readingColumns + ` FROM readings WHERE id = $1`

	rd, err := scanReading(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		return nil, mapError(err, "get reading")
	}
	return rd, nil
}

// ActiveReadingExists reports whether a pending or validated reading exists for the meter and period
func (r *Repository) ActiveReadingExists(ctx context.Context, meterID uuid.UUID, month, year int) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM readings
			WHERE meter_id = $1 AND month = $2 AND year = $3 AND state IN ('pending', 'validated')
		)
	`

	var exists bool
	if err := r.pool.QueryRow(ctx, query, meterID, month, year).Scan(&exists); err != nil {
		return false, mapError(err, "check active reading")
	}
	return exists, nil
}

// AcceptedHistory returns validated readings of a meter strictly before the period, newest first
func (r *Repository) AcceptedHistory(ctx context.Context, meterID uuid.UUID, month, year, limit int) ([]db.Reading, error) {
	query := `
		SELECT ` + readingColumns + `
		FROM readings
		WHERE meter_id = $1 AND state = 'validated'
		  AND (year < $3 OR (year = $3 AND month < $2))
		ORDER BY year DESC, month DESC
		LIMIT $4
	`

	rows, err := r.pool.Query(ctx, query, meterID, month, year, limit)
	if err != nil {
		return nil, mapError(err, "query accepted history")
	}
	defer rows.Close()

	var readings []db.Reading
	for rows.Next() {
		rd, err := scanReading(rows)
		if err != nil {
			return nil, mapError(err, "scan reading")
		}
		readings = append(readings, *rd)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err, "iterate readings")
	}
	return readings, nil
}

// DecideReading moves a pending reading to a terminal state.
// It reports false when the reading was not pending.
func (r *Repository) DecideReading(ctx context.Context, id uuid.UUID, state db.ReadingState, decidedBy uuid.UUID, reasons []string, at time.Time) (*db.Reading, bool, error) {
	query := `
		UPDATE readings
		SET state = $2, decided_by = $3, decided_at = $4, validation_errors = $5, updated_at = $4
		WHERE id = $1 AND state = 'pending'
		RETURNING ` + readingColumns

	if reasons == nil {
		reasons = []string{}
	}

	rd, err := scanReading(r.pool.QueryRow(ctx, query, id, string(state), decidedBy, at.UTC(), reasons))
	if errors.Is(err, errNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, mapError(err, "decide reading")
	}
	return rd, true, nil
}

// ReadingFilter narrows ListReadings
type ReadingFilter struct {
	AccountID *uuid.UUID
	MeterID   *uuid.UUID
	State     *db.ReadingState
	Limit     int
	Offset    int
}

// ListReadings returns readings newest first
func (r *Repository) ListReadings(ctx context.Context, filter ReadingFilter) ([]db.Reading, error) {
	query := `
		SELECT ` + readingColumns + `
		FROM readings
		WHERE ($1::uuid IS NULL OR account_id = $1)
		  AND ($2::uuid IS NULL OR meter_id = $2)
		  AND ($3::text IS NULL OR state = $3)
		ORDER BY created_at DESC
		LIMIT $4 OFFSET $5
	`

	var state *string
	if filter.State != nil {
		s := string(*filter.State)
		state = &s
	}
	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	rows, err := r.pool.Query(ctx, query, filter.AccountID, filter.MeterID, state, limit, filter.Offset)
	if err != nil {
		return nil, mapError(err, "query readings")
	}
	defer rows.Close()

	readings := []db.Reading{}
	for rows.Next() {
		rd, err := scanReading(rows)
		if err != nil {
			return nil, mapError(err, "scan reading")
		}
		readings = append(readings, *rd)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err, "iterate readings")
	}
	return readings, nil
}
