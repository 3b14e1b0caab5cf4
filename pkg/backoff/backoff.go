// Package backoff implements the reconnect delay schedule for the
// connection manager: a doubling delay keyed to the attempt count, with
// a hard cap on the number of attempts rather than on the per-attempt
// delay.
package backoff

import (
	"fmt"
	"time"

	"github.com/c360/previewsync/errors"
)

// Policy defines the reconnect schedule. The delay for attempt n is
// BaseInterval × 2^(n−1); the process stops entirely once the attempt
// count reaches MaxAttempts.
type Policy struct {
	BaseInterval time.Duration
	MaxAttempts  int
}

// DefaultPolicy returns the standard reconnect schedule: 3s base
// interval, 10 attempts.
func DefaultPolicy() Policy {
	return Policy{
		BaseInterval: 3 * time.Second,
		MaxAttempts:  10,
	}
}

// Validate checks the policy for usable values.
func (p Policy) Validate() error {
	if p.BaseInterval <= 0 {
		return errors.WrapInvalid(
			fmt.Errorf("%w: base interval must be positive, got %v", errors.ErrInvalidConfig, p.BaseInterval),
			"backoff", "Validate", "check base interval")
	}
	if p.MaxAttempts <= 0 {
		return errors.WrapInvalid(
			fmt.Errorf("%w: max attempts must be positive, got %d", errors.ErrInvalidConfig, p.MaxAttempts),
			"backoff", "Validate", "check max attempts")
	}
	return nil
}

// maxShift bounds the doubling exponent so the shift cannot overflow a
// time.Duration. 2^62 nanoseconds is already beyond any usable delay.
const maxShift = 62

// Delay returns the delay before reconnect attempt n (1-based).
// Attempts ≤ 0 are treated as the first attempt.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	shift := attempt - 1
	if shift > maxShift {
		shift = maxShift
	}

	d := p.BaseInterval << uint(shift)
	if d < p.BaseInterval {
		// Shift wrapped; saturate.
		return 1 << maxShift
	}
	return d
}

// Exhausted reports whether the attempt budget is spent.
func (p Policy) Exhausted(attempts int) bool {
	return attempts >= p.MaxAttempts
}
