package config

import (
	"fmt"
	"strings"

	"github.com/markusahlstrand/authhero-sub008/pkg/loginflow"
)

// LoginFlowConfig contains the login workflow settings. Durations use ISO
// 8601 ("PT30M") or Go ("30m") format.
type LoginFlowConfig struct {
	SessionExpiration    string `env:"LOGIN_SESSION_EXPIRATION" env-default:"PT30M"`
	OTPExpiration        string `env:"LOGIN_OTP_EXPIRATION" env-default:"PT5M"`
	RequireVerifiedEmail bool   `env:"LOGIN_REQUIRE_VERIFIED_EMAIL" env-default:"false"`

	// PageHooks lists the pages shown after authentication, in order. Each
	// entry is "page_id[:permission[:continue[=scope scope...]]]"; the
	// continue suffix makes the page a continuation with the given scope.
	PageHooks []string `env:"LOGIN_PAGE_HOOKS" env-separator:","`
}

// DefaultLoginFlowConfig returns a LoginFlowConfig with sensible defaults
func DefaultLoginFlowConfig() LoginFlowConfig {
	return LoginFlowConfig{
		SessionExpiration: "PT30M",
		OTPExpiration:     "PT5M",
	}
}

// NewLoginFlowConfigFromEnv loads LoginFlowConfig from standard environment variables.
//
// Environment variables:
//   - LOGIN_SESSION_EXPIRATION: lifetime of a login session (default: "PT30M")
//   - LOGIN_OTP_EXPIRATION: lifetime of a login code (default: "PT5M")
//   - LOGIN_REQUIRE_VERIFIED_EMAIL: verify email users before completing (default: false)
//   - LOGIN_PAGE_HOOKS: comma separated page hooks (default: none)
func NewLoginFlowConfigFromEnv() LoginFlowConfig {
	return LoginFlowConfig{
		SessionExpiration:    GetEnvOrDefault("LOGIN_SESSION_EXPIRATION", "PT30M"),
		OTPExpiration:        GetEnvOrDefault("LOGIN_OTP_EXPIRATION", "PT5M"),
		RequireVerifiedEmail: GetEnvBool("LOGIN_REQUIRE_VERIFIED_EMAIL", false),
		PageHooks:            GetEnvSlice("LOGIN_PAGE_HOOKS", nil),
	}
}

// Validate requires positive expirations and a page id in every hook entry.
func (c LoginFlowConfig) Validate() ValidationErrors {
	_, sessionErr := positiveDurationField("LOGIN_SESSION_EXPIRATION", c.SessionExpiration)
	_, otpErr := positiveDurationField("LOGIN_OTP_EXPIRATION", c.OTPExpiration)
	errs := CollectErrors(sessionErr, otpErr)
	for _, hook := range c.PageHooks {
		if _, err := parsePageHook(hook); err != nil {
			errs = append(errs, ValidationError{Field: "LOGIN_PAGE_HOOKS", Message: err.Error()})
		}
	}
	return errs
}

const continueMarker = "continue"

func parsePageHook(entry string) (loginflow.PageHook, error) {
	parts := strings.SplitN(strings.TrimSpace(entry), ":", 3)
	hook := loginflow.PageHook{PageID: parts[0]}
	if hook.PageID == "" {
		return hook, fmt.Errorf("empty page id in %s", entry)
	}
	if len(parts) > 1 {
		hook.PermissionRequired = parts[1]
	}
	if len(parts) == 3 {
		marker, scope, _ := strings.Cut(parts[2], "=")
		if marker != continueMarker {
			return hook, fmt.Errorf("unknown page hook option %q in %s", parts[2], entry)
		}
		hook.Continuation = true
		if fields := strings.Fields(scope); len(fields) > 0 {
			hook.Scope = fields
		}
	}
	return hook, nil
}

// ToOptions builds the login workflow options. universalLoginPath is where
// the login screens are served.
func (c LoginFlowConfig) ToOptions(universalLoginPath string, enforceIPCheck bool) (loginflow.Options, error) {
	if errs := c.Validate(); errs.HasErrors() {
		return loginflow.Options{}, errs
	}
	opts := loginflow.DefaultOptions()
	opts.SessionExpiration, _ = ParseDuration(c.SessionExpiration)
	opts.OTPExpiration, _ = ParseDuration(c.OTPExpiration)
	opts.RequireVerifiedEmail = c.RequireVerifiedEmail
	opts.EnforceIPCheck = enforceIPCheck
	if universalLoginPath != "" {
		opts.UniversalLoginPath = universalLoginPath
	}
	for _, entry := range c.PageHooks {
		hook, _ := parsePageHook(entry)
		opts.PageHooks = append(opts.PageHooks, hook)
	}
	return opts, nil
}
