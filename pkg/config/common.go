package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

func GetEnv(key string) string {
	return os.Getenv(key)
}

func GetEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parsed returns parse(value of key), or defaultValue when the variable is
// unset or does not parse.
func parsed[T any](key string, defaultValue T, parse func(string) (T, error)) T {
	if value := os.Getenv(key); value != "" {
		if v, err := parse(value); err == nil {
			return v
		}
	}
	return defaultValue
}

func GetEnvInt(key string, defaultValue int) int {
	return parsed(key, defaultValue, strconv.Atoi)
}

// GetEnvUint16 is GetEnvInt for ports.
func GetEnvUint16(key string, defaultValue uint16) uint16 {
	return parsed(key, defaultValue, func(s string) (uint16, error) {
		v, err := strconv.ParseUint(s, 10, 16)
		return uint16(v), err
	})
}

func GetEnvFloat(key string, defaultValue float64) float64 {
	return parsed(key, defaultValue, func(s string) (float64, error) {
		return strconv.ParseFloat(s, 64)
	})
}

// GetEnvBool understands true/false, 1/0, yes/no and on/off in any case.
func GetEnvBool(key string, defaultValue bool) bool {
	switch strings.ToLower(os.Getenv(key)) {
	case "true", "1", "yes", "on":
		return true
	case "false", "0", "no", "off":
		return false
	}
	return defaultValue
}

// GetEnvDuration accepts ISO 8601 ("PT5M") and Go ("5m") durations.
func GetEnvDuration(key string, defaultValue time.Duration) time.Duration {
	return parsed(key, defaultValue, ParseDuration)
}

// GetEnvSlice splits a comma separated variable, dropping blank entries.
func GetEnvSlice(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	var parts []string
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	if len(parts) == 0 {
		return defaultValue
	}
	return parts
}

// Environment is the deployment environment selected by APP_ENV.
type Environment string

const (
	Development Environment = "development"
	Staging     Environment = "staging"
	Production  Environment = "production"
	Test        Environment = "test"
)

// GetEnvironment defaults to Development for unknown or unset APP_ENV.
func GetEnvironment() Environment {
	env := GetEnvOrDefault("APP_ENV", "development")
	switch env {
	case "production", "prod":
		return Production
	case "staging", "stage":
		return Staging
	case "test", "testing":
		return Test
	default:
		return Development
	}
}

func IsProduction() bool {
	return GetEnvironment() == Production
}
