package config

import (
	"time"

	"github.com/sosodev/duration"
)

// ParseDuration parses s as an ISO 8601 duration ("PT30M", "P1D") and falls
// back to Go's format ("30m").
func ParseDuration(s string) (time.Duration, error) {
	isoDuration, err := duration.Parse(s)
	if err == nil {
		return isoDuration.ToTimeDuration(), nil
	}
	return time.ParseDuration(s)
}

// durationField parses value for field, recording a validation error on
// failure.
func durationField(field, value string) (time.Duration, *ValidationError) {
	d, err := ParseDuration(value)
	if err != nil {
		return 0, &ValidationError{Field: field, Message: "invalid duration " + value}
	}
	return d, nil
}

// positiveDurationField is durationField for settings where zero or a
// negative duration is meaningless.
func positiveDurationField(field, value string) (time.Duration, *ValidationError) {
	d, verr := durationField(field, value)
	if verr != nil {
		return 0, verr
	}
	return d, RequirePositiveDuration(field, d)
}
