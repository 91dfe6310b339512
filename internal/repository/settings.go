package repository

import (
	"context"
	"errors"
	"time"

	"github.com/septivank/webill/internal/db"
)

// GetSettings loads the settings row, falling back to defaults when none was saved
func (r *Repository) GetSettings(ctx context.Context) (db.SystemSettings, error) {
	query := `
		SELECT billing_rate::text, reading_due_day, payment_grace_period_days,
		       enable_notifications, enable_auto_billing, enable_reading_reminders,
		       min_reading_interval_days, max_reading_interval_days, updated_at
		FROM system_settings
		WHERE id = 1
	`

	var s db.SystemSettings
	var rate string
	var dueDay, grace, minDays, maxDays int16
	err := r.pool.QueryRow(ctx, query).Scan(
		&rate,
		&dueDay,
		&grace,
		&s.EnableNotifications,
		&s.EnableAutoBilling,
		&s.EnableReadingReminders,
		&minDays,
		&maxDays,
		&s.UpdatedAt,
	)
	if errors.Is(err, errNoRows) {
		return db.DefaultSettings(), nil
	}
	if err != nil {
		return db.SystemSettings{}, mapError(err, "get settings")
	}

	if s.BillingRate, err = parseDecimal(rate); err != nil {
		return db.SystemSettings{}, err
	}
	s.ReadingDueDay = int(dueDay)
	s.PaymentGracePeriodDays = int(grace)
	s.MinReadingIntervalDays = int(minDays)
	s.MaxReadingIntervalDays = int(maxDays)
	return s, nil
}

// SaveSettings upserts the settings row
func (r *Repository) SaveSettings(ctx context.Context, s db.SystemSettings) (db.SystemSettings, error) {
	query := `
		INSERT INTO system_settings (
			id, billing_rate, reading_due_day, payment_grace_period_days,
			enable_notifications, enable_auto_billing, enable_reading_reminders,
			min_reading_interval_days, max_reading_interval_days, updated_at
		)
		VALUES (1, $1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			billing_rate = EXCLUDED.billing_rate,
			reading_due_day = EXCLUDED.reading_due_day,
			payment_grace_period_days = EXCLUDED.payment_grace_period_days,
			enable_notifications = EXCLUDED.enable_notifications,
			enable_auto_billing = EXCLUDED.enable_auto_billing,
			enable_reading_reminders = EXCLUDED.enable_reading_reminders,
			min_reading_interval_days = EXCLUDED.min_reading_interval_days,
			max_reading_interval_days = EXCLUDED.max_reading_interval_days,
			updated_at = EXCLUDED.updated_at
	`

	s.UpdatedAt = time.Now().UTC()
	_, err := r.pool.Exec(ctx, query,
		s.BillingRate.String(),
		s.ReadingDueDay,
		s.PaymentGracePeriodDays,
		s.EnableNotifications,
		s.EnableAutoBilling,
		s.EnableReadingReminders,
		s.MinReadingIntervalDays,
		s.MaxReadingIntervalDays,
		s.UpdatedAt,
	)
	if err != nil {
		return db.SystemSettings{}, mapError(err, "save settings")
	}
	return s, nil
}
