package config

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// ValidatePositiveDuration validates that a duration is greater than zero.
func ValidatePositiveDuration(d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("duration must be positive, got %v", d)
	}
	return nil
}

// ValidateNonNegativeDuration validates that a duration is zero or greater.
// Zero usually means "disabled".
func ValidateNonNegativeDuration(d time.Duration) error {
	if d < 0 {
		return fmt.Errorf("duration must be non-negative, got %v", d)
	}
	return nil
}

// ValidateIntRange validates that value is within [lo, hi].
func ValidateIntRange(value, lo, hi int) error {
	if lo > hi {
		return fmt.Errorf("invalid range: min (%d) cannot be greater than max (%d)", lo, hi)
	}
	if value < lo || value > hi {
		return fmt.Errorf("value %d is out of range [%d, %d]", value, lo, hi)
	}
	return nil
}

// ValidateFloatRange validates that value is within [lo, hi].
func ValidateFloatRange(value, lo, hi float64) error {
	if value < lo || value > hi {
		return fmt.Errorf("value %g is out of range [%g, %g]", value, lo, hi)
	}
	return nil
}

// ValidateCronSchedule validates a standard five-field cron expression
// (minute hour day-of-month month day-of-week) as accepted by robfig/cron.
//
// Example:
//
//	if err := ValidateCronSchedule("0 * * * *"); err != nil {
//	    return fmt.Errorf("CACHE_JANITOR_SCHEDULE: %w", err)
//	}
func ValidateCronSchedule(schedule string) error {
	if schedule == "" {
		return fmt.Errorf("cron schedule cannot be empty")
	}
	if _, err := cron.ParseStandard(schedule); err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", schedule, err)
	}
	return nil
}
