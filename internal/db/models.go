package db

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Role is an account role
type Role string

const (
	RoleAdmin    Role = "ADMIN"
	RoleConsumer Role = "CONSUMER"
)

// ReadingState is the validation state of a reading
type ReadingState string

const (
	ReadingPending   ReadingState = "pending"
	ReadingValidated ReadingState = "validated"
	ReadingRejected  ReadingState = "rejected"
)

// Account represents a registered user
type Account struct {
	ID         uuid.UUID
	Role       Role
	Email      string
	GivenName  string
	Surname    string
	Address    string
	IsEnabled  bool
	DisabledAt *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// FullName joins given name and surname
func (a *Account) FullName() string {
	switch {
	case a.GivenName == "":
		return a.Surname
	case a.Surname == "":
		return a.GivenName
	}
	return a.GivenName + " " + a.Surname
}

// Meter represents a physical utility meter
type Meter struct {
	ID         uuid.UUID
	Code       string
	Latitude   float64
	Longitude  float64
	UnitRate   *decimal.Decimal
	IsEnabled  bool
	ConsumerID *uuid.UUID
	Location   string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Reading represents one consumer-submitted meter reading
type Reading struct {
	ID               uuid.UUID
	MeterID          uuid.UUID
	AccountID        uuid.UUID
	Value            decimal.Decimal
	ImageKey         string
	ImageURL         string
	CaptureLatitude  *float64
	CaptureLongitude *float64
	DistanceKm       *float64
	ProximityFlagged bool
	OCRConfidence    *float64
	ManualInput      bool
	Month            int
	Year             int
	State            ReadingState
	Flags            []string
	ValidationErrors []string
	DecidedBy        *uuid.UUID
	DecidedAt        *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Bill represents a bill derived from a validated reading
type Bill struct {
	ID          uuid.UUID
	ReadingID   uuid.UUID
	AccountID   uuid.UUID
	MeterID     uuid.UUID
	Consumption decimal.Decimal
	Amount      decimal.Decimal
	UnitRate    decimal.Decimal
	IssuedAt    time.Time
	DueDate     time.Time
	Paid        bool
	DocumentKey string
	DocumentURL string
	NotifiedAt  *time.Time
	NotifyError *string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// SystemSettings is the singleton runtime configuration row
type SystemSettings struct {
	BillingRate            decimal.Decimal
	ReadingDueDay          int
	PaymentGracePeriodDays int
	EnableNotifications    bool
	EnableAutoBilling      bool
	EnableReadingReminders bool
	MinReadingIntervalDays int
	MaxReadingIntervalDays int
	UpdatedAt              time.Time
}

// DefaultSettings returns the settings used before an admin saves any
func DefaultSettings() SystemSettings {
	return SystemSettings{
		BillingRate:            decimal.RequireFromString("0.15"),
		ReadingDueDay:          25,
		PaymentGracePeriodDays: 7,
		EnableNotifications:    true,
		MinReadingIntervalDays: 25,
		MaxReadingIntervalDays: 35,
	}
}
