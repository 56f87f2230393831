package probe

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrAttemptsNotPositive indicates a probe configured with fewer than one attempt.
	ErrAttemptsNotPositive = errors.New("attempts must be at least 1")

	// ErrNegativeInterval indicates a negative inter-attempt delay.
	ErrNegativeInterval = errors.New("interval must not be negative")

	// ErrNilCheck indicates Probe was called without a check function.
	ErrNilCheck = errors.New("check must not be nil")
)

// TimeoutError reports that a dependency never became reachable within the
// configured attempt budget.
type TimeoutError struct {
	Target   string
	Attempts int
	Interval time.Duration
	Last     error
}

func (e *TimeoutError) Error() string {
	msg := fmt.Sprintf("dependency %s not ready after %d attempts (interval %s)", e.Target, e.Attempts, e.Interval)
	if e.Last != nil {
		msg += ": last error: " + e.Last.Error()
	}
	return msg
}

func (e *TimeoutError) Unwrap() error { return e.Last }

// IsTimeout reports whether err is a dependency timeout.
func IsTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}
