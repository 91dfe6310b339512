package geo

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	// ErrLocationUnavailable is returned when the device has no positioning capability
	ErrLocationUnavailable = errors.New("location unavailable")

	// ErrLocationDenied is returned when the user refused the location permission
	ErrLocationDenied = errors.New("location permission denied")

	// ErrLocationTimeout is returned when no fix was acquired in time
	ErrLocationTimeout = errors.New("location timeout")
)

// MaxAttempts caps the number of fix attempts per capture
const MaxAttempts = 2

// Locator acquires a single position fix
type Locator interface {
	Locate(ctx context.Context) (Coordinate, error)
}

// LocatorFunc adapts a function to Locator
type LocatorFunc func(ctx context.Context) (Coordinate, error)

// Locate calls f
func (f LocatorFunc) Locate(ctx context.Context) (Coordinate, error) {
	return f(ctx)
}

// Reported is a fix (or failure) reported by the client device
type Reported struct {
	Coordinate *Coordinate
	Status     string
}

// Locate returns the reported fix or maps the reported failure status
func (r Reported) Locate(ctx context.Context) (Coordinate, error) {
	if err := ctx.Err(); err != nil {
		return Coordinate{}, ErrLocationTimeout
	}
	switch strings.ToLower(strings.TrimSpace(r.Status)) {
	case "denied", "permission_denied":
		return Coordinate{}, ErrLocationDenied
	case "timeout":
		return Coordinate{}, ErrLocationTimeout
	case "unavailable", "position_unavailable":
		return Coordinate{}, ErrLocationUnavailable
	}
	if r.Coordinate == nil {
		return Coordinate{}, ErrLocationUnavailable
	}
	if !r.Coordinate.Valid() {
		return Coordinate{}, ErrLocationUnavailable
	}
	return *r.Coordinate, nil
}

// CapturePolicy bounds location acquisition
type CapturePolicy struct {
	Attempts int
	Backoff  time.Duration
	Timeout  time.Duration
}

// Capture acquires a fix. Only timeouts are retried, with exponential backoff;
// a missing capability or a denied permission is surfaced immediately.
func Capture(ctx context.Context, locator Locator, policy CapturePolicy) (Coordinate, error) {
	if locator == nil {
		return Coordinate{}, ErrLocationUnavailable
	}

	attempts := policy.Attempts
	if attempts < 1 {
		attempts = 1
	}
	if attempts > MaxAttempts {
		attempts = MaxAttempts
	}

	backoff := policy.Backoff
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		coord, err := locateOnce(ctx, locator, policy.Timeout)
		if err == nil {
			return coord, nil
		}
		lastErr = err
		if !errors.Is(err, ErrLocationTimeout) || attempt == attempts {
			break
		}

		select {
		case <-ctx.Done():
			return Coordinate{}, ErrLocationTimeout
		case <-time.After(backoff):
		}
		backoff *= 2
	}

	return Coordinate{}, lastErr
}

func locateOnce(ctx context.Context, locator Locator, timeout time.Duration) (Coordinate, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	coord, err := locator.Locate(ctx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return Coordinate{}, ErrLocationTimeout
		}
		return Coordinate{}, err
	}
	if !coord.Valid() {
		return Coordinate{}, ErrLocationUnavailable
	}
	return coord, nil
}
