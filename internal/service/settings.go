package service

import (
	"context"
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/septivank/webill/internal/auth"
	"github.com/septivank/webill/internal/db"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Settings is the admin-editable system configuration
type Settings struct {
	BillingRate            decimal.Decimal `json:"billing_rate" validate:"gt=0"`
	ReadingDueDay          int             `json:"reading_due_day" validate:"min=1,max=28"`
	PaymentGracePeriodDays int             `json:"payment_grace_period_days" validate:"min=0,max=90"`
	EnableNotifications    bool            `json:"enable_notifications"`
	EnableAutoBilling      bool            `json:"enable_auto_billing"`
	EnableReadingReminders bool            `json:"enable_reading_reminders"`
	MinReadingIntervalDays int             `json:"min_reading_interval_days" validate:"min=1"`
	MaxReadingIntervalDays int             `json:"max_reading_interval_days" validate:"gtefield=MinReadingIntervalDays"`
}

var settingsValidator = newSettingsValidator()

func newSettingsValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Use JSON tag names for field names in errors
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	v.RegisterCustomTypeFunc(func(field reflect.Value) any {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			return d.InexactFloat64()
		}
		return nil
	}, decimal.Decimal{})
	return v
}

// SettingsFromModel converts the stored row
func SettingsFromModel(m db.SystemSettings) Settings {
	return Settings{
		BillingRate:            m.BillingRate,
		ReadingDueDay:          m.ReadingDueDay,
		PaymentGracePeriodDays: m.PaymentGracePeriodDays,
		EnableNotifications:    m.EnableNotifications,
		EnableAutoBilling:      m.EnableAutoBilling,
		EnableReadingReminders: m.EnableReadingReminders,
		MinReadingIntervalDays: m.MinReadingIntervalDays,
		MaxReadingIntervalDays: m.MaxReadingIntervalDays,
	}
}

func (s Settings) model() db.SystemSettings {
	return db.SystemSettings{
		BillingRate:            s.BillingRate,
		ReadingDueDay:          s.ReadingDueDay,
		PaymentGracePeriodDays: s.PaymentGracePeriodDays,
		EnableNotifications:    s.EnableNotifications,
		EnableAutoBilling:      s.EnableAutoBilling,
		EnableReadingReminders: s.EnableReadingReminders,
		MinReadingIntervalDays: s.MinReadingIntervalDays,
		MaxReadingIntervalDays: s.MaxReadingIntervalDays,
	}
}

// Validate checks the settings ranges
func (s Settings) Validate() error {
	err := settingsValidator.Struct(s)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, fe.Field()+" failed "+fe.Tag()+withParam(fe.Param()))
	}
	return errors.New(strings.Join(msgs, "; "))
}

func withParam(p string) string {
	if p == "" {
		return ""
	}
	return "=" + p
}

// GetSettings returns the current settings, defaults when none were saved
func (s *Service) GetSettings(ctx context.Context, sess auth.Session) (Settings, error) {
	const op = "GetSettings"

	if !sess.IsAdmin() {
		return Settings{}, newError(op, ErrForbidden, "")
	}
	m, err := s.settings(ctx, op)
	if err != nil {
		return Settings{}, err
	}
	return SettingsFromModel(m), nil
}

// UpdateSettings validates and saves the singleton settings row
func (s *Service) UpdateSettings(ctx context.Context, sess auth.Session, in Settings) (Settings, error) {
	const op = "UpdateSettings"

	if !sess.IsAdmin() {
		return Settings{}, newError(op, ErrForbidden, "only admins change settings")
	}
	if err := in.Validate(); err != nil {
		return Settings{}, newError(op, ErrInvalidSettings, err.Error())
	}

	saved, err := s.store.SaveSettings(ctx, in.model())
	if err != nil {
		return Settings{}, wrapError(op, ErrPersistence, err)
	}

	s.logger.Info("settings updated",
		zap.String("account_id", sess.AccountID.String()),
		zap.String("billing_rate", saved.BillingRate.String()),
		zap.Int("grace_days", saved.PaymentGracePeriodDays),
	)
	return SettingsFromModel(saved), nil
}
