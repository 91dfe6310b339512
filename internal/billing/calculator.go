// Package billing computes consumption, amounts and due dates for validated readings.
package billing

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Basis selects what a bill charges for
type Basis string

const (
	// BasisReading charges the raw meter value
	BasisReading Basis = "reading"
	// BasisDelta charges the difference from the previous accepted reading
	BasisDelta Basis = "delta"
)

var (
	// ErrNegativeConsumption is returned when a delta bill would be negative
	ErrNegativeConsumption = errors.New("reading is lower than the previous accepted reading")

	// ErrInvalidRate is returned for a non-positive unit rate
	ErrInvalidRate = errors.New("unit rate must be positive")
)

// ParseBasis validates a configured basis name
func ParseBasis(s string) (Basis, error) {
	switch Basis(s) {
	case BasisReading, BasisDelta:
		return Basis(s), nil
	}
	return "", fmt.Errorf("unknown consumption basis %q", s)
}

// Input carries everything a charge depends on
type Input struct {
	Value    decimal.Decimal
	Previous *decimal.Decimal
	Rate     decimal.Decimal
	Basis    Basis
}

// Charge is the computed consumption and amount
type Charge struct {
	Consumption decimal.Decimal
	Amount      decimal.Decimal
}

// Calculate computes the charge. Amount is rounded half away from zero to 2 decimals.
func Calculate(in Input) (Charge, error) {
	if !in.Rate.IsPositive() {
		return Charge{}, ErrInvalidRate
	}

	consumption := in.Value
	if in.Basis == BasisDelta && in.Previous != nil {
		consumption = in.Value.Sub(*in.Previous)
		if consumption.IsNegative() {
			return Charge{}, fmt.Errorf("%w: %s < %s", ErrNegativeConsumption, in.Value, in.Previous)
		}
	}

	return Charge{
		Consumption: consumption,
		Amount:      consumption.Mul(in.Rate).Round(2),
	}, nil
}

// DueDate returns the payment due date for a bill issued at issuedAt
func DueDate(issuedAt time.Time, graceDays int) time.Time {
	return issuedAt.UTC().AddDate(0, 0, graceDays)
}

// ResolveRate prefers the meter's own rate over the system billing rate
func ResolveRate(meterRate *decimal.Decimal, systemRate decimal.Decimal) decimal.Decimal {
	if meterRate != nil && meterRate.IsPositive() {
		return *meterRate
	}
	return systemRate
}
