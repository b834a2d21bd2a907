// Package config provides configuration loading and validation for authhero.
//
// Each concern has its own struct (storage, login flow, passwordless grant,
// tokens, email, sms, rate limiting, route prefixes). The structs carry env tags
// so the binary can load them in one pass with cleanenv, and every struct
// also has a NewXxxConfigFromEnv constructor built on the helpers below for
// callers that embed the packages directly.
//
// # Environment Variable Helpers
//
//	host := config.GetEnvOrDefault("AUTHHERO_PG_HOST", "localhost")
//	port := config.GetEnvUint16("AUTHHERO_PG_PORT", 5432)
//	strict := config.GetEnvBool("PASSWORDLESS_STRICT_IPV6", false)
//	ttl := config.GetEnvDuration("CLIENT_CACHE_TTL", time.Minute)
//	hooks := config.GetEnvSlice("LOGIN_PAGE_HOOKS", nil)
//
// # Durations
//
// Durations accept ISO 8601 ("PT30M", "P1D") and Go ("30m") notation:
//
//	d, err := config.ParseDuration("PT5M")
//
// # Validation
//
// Every config struct has a Validate method returning ValidationErrors.
// Combine them with Validate:
//
//	err := config.Validate(
//		cfg.Storage.Validate,
//		cfg.Passwordless.Validate,
//		cfg.LoginFlow.Validate,
//	)
//	if err != nil {
//		slog.Error("Invalid configuration", "err", err)
//		os.Exit(1)
//	}
//
// # Environment Detection
//
// APP_ENV selects the deployment environment. In production the default
// token signing key is rejected.
package config
