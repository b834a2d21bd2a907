package config

import (
	"time"

	"github.com/markusahlstrand/authhero-sub008/pkg/passwordless"
)

// PasswordlessConfig contains the passwordless grant settings.
type PasswordlessConfig struct {
	// EnforceIPCheck compares the grant caller's IP with the IP the login
	// started from.
	EnforceIPCheck bool `env:"PASSWORDLESS_ENFORCE_IP_CHECK" env-default:"false"`

	// StrictIPv6 compares full IPv6 addresses instead of /64 prefixes.
	StrictIPv6 bool `env:"PASSWORDLESS_STRICT_IPV6" env-default:"false"`

	// IPMismatchPolicy is "redirect" or "reject".
	IPMismatchPolicy string `env:"PASSWORDLESS_IP_MISMATCH_POLICY" env-default:"redirect"`

	// MaxAttempts bounds wrong codes per username within AttemptWindow.
	MaxAttempts   int    `env:"PASSWORDLESS_MAX_ATTEMPTS" env-default:"5"`
	AttemptWindow string `env:"PASSWORDLESS_ATTEMPT_WINDOW" env-default:"PT15M"`
}

// DefaultPasswordlessConfig returns a PasswordlessConfig with sensible defaults
func DefaultPasswordlessConfig() PasswordlessConfig {
	return PasswordlessConfig{
		IPMismatchPolicy: passwordless.IPMismatchRedirect,
		MaxAttempts:      5,
		AttemptWindow:    "PT15M",
	}
}

// NewPasswordlessConfigFromEnv loads PasswordlessConfig from standard environment variables.
func NewPasswordlessConfigFromEnv() PasswordlessConfig {
	return PasswordlessConfig{
		EnforceIPCheck:   GetEnvBool("PASSWORDLESS_ENFORCE_IP_CHECK", false),
		StrictIPv6:       GetEnvBool("PASSWORDLESS_STRICT_IPV6", false),
		IPMismatchPolicy: GetEnvOrDefault("PASSWORDLESS_IP_MISMATCH_POLICY", passwordless.IPMismatchRedirect),
		MaxAttempts:      GetEnvInt("PASSWORDLESS_MAX_ATTEMPTS", 5),
		AttemptWindow:    GetEnvOrDefault("PASSWORDLESS_ATTEMPT_WINDOW", "PT15M"),
	}
}

func (c PasswordlessConfig) Validate() ValidationErrors {
	_, windowErr := positiveDurationField("PASSWORDLESS_ATTEMPT_WINDOW", c.AttemptWindow)
	return CollectErrors(
		RequireOneOf("PASSWORDLESS_IP_MISMATCH_POLICY", c.IPMismatchPolicy,
			[]string{passwordless.IPMismatchRedirect, passwordless.IPMismatchReject}),
		RequirePositive("PASSWORDLESS_MAX_ATTEMPTS", c.MaxAttempts),
		windowErr,
	)
}

// ParseAttemptWindow parses AttemptWindow.
func (c PasswordlessConfig) ParseAttemptWindow() (time.Duration, error) {
	return ParseDuration(c.AttemptWindow)
}

// ToOptions builds the passwordless service options.
func (c PasswordlessConfig) ToOptions(baseURL string) passwordless.Options {
	return passwordless.Options{
		StrictIPv6:            c.StrictIPv6,
		IPMismatchPolicy:      c.IPMismatchPolicy,
		UniversalLoginBaseURL: baseURL,
	}
}
