package service

import (
	"errors"
	"fmt"
)

// Kind classifies a failure for the caller
type Kind int

const (
	KindUnknown Kind = iota
	// KindValidation means the caller must fix the input
	KindValidation
	// KindConflict means the target is not in a state that allows the operation
	KindConflict
	KindNotFound
	// KindForbidden means the caller is not allowed to do this
	KindForbidden
	// KindUnavailable means a dependency failed and the call may be retried
	KindUnavailable
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindConflict:
		return "conflict"
	case KindNotFound:
		return "not_found"
	case KindForbidden:
		return "forbidden"
	case KindUnavailable:
		return "unavailable"
	}
	return "unknown"
}

var (
	ErrInvalidMeter        = errors.New("meter is not enabled or not assigned to this account")
	ErrInvalidAccount      = errors.New("account cannot own meters")
	ErrInvalidValue        = errors.New("invalid reading value")
	ErrInvalidPeriod       = errors.New("invalid billing period")
	ErrInvalidImage        = errors.New("invalid image")
	ErrProximityViolation  = errors.New("capture location too far from meter")
	ErrMissingReasons      = errors.New("rejection requires at least one reason")
	ErrInvalidSettings     = errors.New("invalid settings")
	ErrNegativeConsumption = errors.New("reading is lower than the previous accepted reading")
	ErrInvalidQRSize       = errors.New("invalid qr code size")

	ErrDuplicatePeriod     = errors.New("a reading for this meter and period already exists")
	ErrAlreadyDecided      = errors.New("reading already decided")
	ErrAlreadyBilled       = errors.New("reading already billed")
	ErrReadingNotValidated = errors.New("reading is not validated")
	ErrMeterAssigned       = errors.New("meter is assigned to another consumer")

	ErrNotFound = errors.New("not found")

	ErrForbidden       = errors.New("operation not allowed")
	ErrAccountDisabled = errors.New("account disabled")

	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrPersistence        = errors.New("persistence failure")
	ErrRenderFailed       = errors.New("document could not be rendered")
)

var sentinels = map[error]struct {
	kind Kind
	code string
}{
	ErrInvalidMeter:        {KindValidation, "INVALID_METER"},
	ErrInvalidAccount:      {KindValidation, "INVALID_ACCOUNT"},
	ErrInvalidValue:        {KindValidation, "INVALID_VALUE"},
	ErrInvalidPeriod:       {KindValidation, "INVALID_PERIOD"},
	ErrInvalidImage:        {KindValidation, "INVALID_IMAGE"},
	ErrProximityViolation:  {KindValidation, "PROXIMITY_VIOLATION"},
	ErrMissingReasons:      {KindValidation, "MISSING_REASONS"},
	ErrInvalidSettings:     {KindValidation, "INVALID_SETTINGS"},
	ErrNegativeConsumption: {KindValidation, "NEGATIVE_CONSUMPTION"},
	ErrInvalidQRSize:       {KindValidation, "INVALID_QR_SIZE"},
	ErrDuplicatePeriod:     {KindConflict, "DUPLICATE_PERIOD"},
	ErrAlreadyDecided:      {KindConflict, "ALREADY_DECIDED"},
	ErrAlreadyBilled:       {KindConflict, "ALREADY_BILLED"},
	ErrReadingNotValidated: {KindConflict, "READING_NOT_VALIDATED"},
	ErrMeterAssigned:       {KindConflict, "METER_ASSIGNED"},
	ErrNotFound:            {KindNotFound, "NOT_FOUND"},
	ErrForbidden:           {KindForbidden, "FORBIDDEN"},
	ErrAccountDisabled:     {KindForbidden, "ACCOUNT_DISABLED"},
	ErrStorageUnavailable:  {KindUnavailable, "STORAGE_UNAVAILABLE"},
	ErrPersistence:         {KindUnavailable, "PERSISTENCE_FAILURE"},
	ErrRenderFailed:        {KindUnavailable, "RENDER_FAILED"},
}

// Error is returned by every core operation
type Error struct {
	Op     string
	Kind   Kind
	Err    error
	Detail string
	Cause  error
}

func (e *Error) Error() string {
	msg := e.Op + ": " + e.Err.Error()
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap exposes both the sentinel and the underlying cause
func (e *Error) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Err}
	}
	return []error{e.Err, e.Cause}
}

// Code returns the stable machine-readable code of the sentinel
func (e *Error) Code() string {
	if s, ok := sentinels[e.Err]; ok {
		return s.code
	}
	return "INTERNAL"
}

// Temporary reports whether a retry may succeed
func (e *Error) Temporary() bool {
	return e.Kind == KindUnavailable
}

func newError(op string, sentinel error, detail string) *Error {
	return &Error{Op: op, Kind: sentinels[sentinel].kind, Err: sentinel, Detail: detail}
}

func newErrorf(op string, sentinel error, format string, args ...any) *Error {
	return newError(op, sentinel, fmt.Sprintf(format, args...))
}

func wrapError(op string, sentinel error, cause error) *Error {
	return &Error{Op: op, Kind: sentinels[sentinel].kind, Err: sentinel, Cause: cause}
}

// KindOf returns the failure class of err, KindUnknown for foreign errors
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// CodeOf returns the machine-readable code of err
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code()
	}
	return "INTERNAL"
}
