package config

import (
	"strings"

	"github.com/markusahlstrand/authhero-sub008/pkg/pagehooks"
)

// PrefixConfig holds the public base URL and the prefix the login routes are
// mounted under.
//
// Example environment variables:
//
//	BASE_URL=https://login.example.com
//	API_PREFIX_LOGIN=/auth
type PrefixConfig struct {
	BaseURL string `env:"BASE_URL" env-default:"http://localhost:3000"`
	Login   string `env:"API_PREFIX_LOGIN" env-default:""`
}

// NewPrefixConfigFromEnv creates a PrefixConfig from environment variables
func NewPrefixConfigFromEnv() PrefixConfig {
	return PrefixConfig{
		BaseURL: GetEnvOrDefault("BASE_URL", "http://localhost:3000"),
		Login:   GetEnv("API_PREFIX_LOGIN"),
	}
}

// LoginMount returns the path the login router is mounted on.
func (p PrefixConfig) LoginMount() string {
	if p.Login == "" {
		return "/"
	}
	return "/" + strings.Trim(p.Login, "/")
}

// UniversalLoginPath is where login screens are served. Page hooks live
// next to it under the same /u prefix.
func (p PrefixConfig) UniversalLoginPath() string {
	return strings.TrimSuffix(p.LoginMount(), "/") + pagehooks.PrefixV1 + "/login"
}

// PublicBaseURL is BaseURL plus the login prefix, the base of page hook and
// interstitial redirects.
func (p PrefixConfig) PublicBaseURL() string {
	return strings.TrimSuffix(p.BaseURL, "/") + strings.TrimSuffix(p.LoginMount(), "/")
}

func (p PrefixConfig) Validate() ValidationErrors {
	return CollectErrors(RequireValidURL("BASE_URL", p.BaseURL))
}
