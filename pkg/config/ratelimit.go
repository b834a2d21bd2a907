package config

import "time"

// RateLimitConfig limits passwordless grant requests per client IP.
type RateLimitConfig struct {
	Enabled           bool    `env:"RATE_LIMIT_ENABLED" env-default:"true"`
	Capacity          int     `env:"RATE_LIMIT_GRANT_CAPACITY" env-default:"10"`
	RefillRate        float64 `env:"RATE_LIMIT_GRANT_REFILL_RATE" env-default:"0.17"` // tokens per second
	RetryAfterSeconds int     `env:"RATE_LIMIT_RETRY_AFTER" env-default:"60"`
	BucketTTL         string  `env:"RATE_LIMIT_BUCKET_TTL" env-default:"PT1H"`
}

// DefaultRateLimitConfig returns a RateLimitConfig with sensible defaults
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		// ~10 requests per minute
		Enabled:           true,
		Capacity:          10,
		RefillRate:        0.17,
		RetryAfterSeconds: 60,
		BucketTTL:         "PT1H",
	}
}

// NewRateLimitConfigFromEnv loads RateLimitConfig from standard environment variables.
func NewRateLimitConfigFromEnv() RateLimitConfig {
	return RateLimitConfig{
		Enabled:           GetEnvBool("RATE_LIMIT_ENABLED", true),
		Capacity:          GetEnvInt("RATE_LIMIT_GRANT_CAPACITY", 10),
		RefillRate:        GetEnvFloat("RATE_LIMIT_GRANT_REFILL_RATE", 0.17),
		RetryAfterSeconds: GetEnvInt("RATE_LIMIT_RETRY_AFTER", 60),
		BucketTTL:         GetEnvOrDefault("RATE_LIMIT_BUCKET_TTL", "PT1H"),
	}
}

func (c RateLimitConfig) Validate() ValidationErrors {
	if !c.Enabled {
		return nil
	}
	_, ttlErr := durationField("RATE_LIMIT_BUCKET_TTL", c.BucketTTL)
	errs := CollectErrors(
		RequirePositive("RATE_LIMIT_GRANT_CAPACITY", c.Capacity),
		RequirePositive("RATE_LIMIT_RETRY_AFTER", c.RetryAfterSeconds),
		ttlErr,
	)
	if c.RefillRate <= 0 {
		errs = append(errs, ValidationError{Field: "RATE_LIMIT_GRANT_REFILL_RATE", Message: "must be positive"})
	}
	return errs
}

// ParseBucketTTL parses BucketTTL.
func (c RateLimitConfig) ParseBucketTTL() (time.Duration, error) {
	return ParseDuration(c.BucketTTL)
}
