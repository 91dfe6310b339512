package validator

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/septivank/webill/tools/period"
	"github.com/shopspring/decimal"
)

// Field names a rejected input
type Field string

const (
	FieldValue  Field = "value"
	FieldPeriod Field = "period"
	FieldImage  Field = "image"
)

// Readings are stored as NUMERIC(14, 3)
const (
	MaxFractionDigits = 3
	MaxIntegerDigits  = 11
)

var maxValue = decimal.New(1, MaxIntegerDigits)

// ValidationResult holds validation outcome
type ValidationResult struct {
	IsValid bool
	Field   Field
	Reason  string
}

// ReadingInput is the raw consumer input for one reading
type ReadingInput struct {
	Value    string
	Month    int
	Year     int
	ImageKey string
}

// Validator checks reading input before it reaches persistence
type Validator struct {
	maxFutureMonths int
}

// NewValidator creates a validator. Periods more than maxFutureMonths past the
// submission month are rejected.
func NewValidator(maxFutureMonths int) *Validator {
	if maxFutureMonths < 0 {
		maxFutureMonths = 0
	}
	return &Validator{maxFutureMonths: maxFutureMonths}
}

// ValidateReading validates a reading input submitted at receivedAt
func (v *Validator) ValidateReading(in ReadingInput, receivedAt time.Time) (decimal.Decimal, period.Period, ValidationResult) {
	result := ValidationResult{IsValid: true}

	value, err := ParseValue(in.Value)
	if err != nil {
		return decimal.Decimal{}, period.Period{}, invalid(FieldValue, err.Error())
	}

	p, err := v.resolvePeriod(in.Month, in.Year, receivedAt)
	if err != nil {
		return value, period.Period{}, invalid(FieldPeriod, err.Error())
	}

	if strings.TrimSpace(in.ImageKey) == "" {
		return value, p, invalid(FieldImage, "image reference is required")
	}

	return value, p, result
}

// ParseValue parses a meter value as a finite, non-negative decimal that the
// readings table stores exactly
func ParseValue(raw string) (decimal.Decimal, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return decimal.Decimal{}, fmt.Errorf("value is required")
	}

	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("invalid reading value %q", raw)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return decimal.Decimal{}, fmt.Errorf("reading value must be finite")
	}
	if f < 0 {
		return decimal.Decimal{}, fmt.Errorf("negative value detected")
	}

	// ParseFloat accepted it, so only exotic forms (hex, underscores) fail here
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("invalid reading value %q", raw)
	}
	if !d.Equal(d.Truncate(MaxFractionDigits)) {
		return decimal.Decimal{}, fmt.Errorf("reading value has more than %d decimal places", MaxFractionDigits)
	}
	if d.GreaterThanOrEqual(maxValue) {
		return decimal.Decimal{}, fmt.Errorf("reading value has more than %d integer digits", MaxIntegerDigits)
	}
	return d, nil
}

func (v *Validator) resolvePeriod(month, year int, receivedAt time.Time) (period.Period, error) {
	current := period.Of(receivedAt)
	if month == 0 && year == 0 {
		return current, nil
	}
	if year == 0 {
		year = current.Year
	}

	p := period.Period{Month: month, Year: year}
	if err := p.Validate(); err != nil {
		return period.Period{}, err
	}

	limit := current
	for i := 0; i < v.maxFutureMonths; i++ {
		limit = limit.Next()
	}
	if limit.Before(p) {
		return period.Period{}, fmt.Errorf("period %s is in the future", p)
	}
	return p, nil
}

func invalid(field Field, reason string) ValidationResult {
	return ValidationResult{IsValid: false, Field: field, Reason: reason}
}
