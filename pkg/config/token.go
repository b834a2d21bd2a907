package config

import (
	"github.com/markusahlstrand/authhero-sub008/pkg/frontchannel"
)

const defaultSigningKey = "very-secure-signing-key"

// TokenConfig configures what a completed login hands back to the client.
type TokenConfig struct {
	Issuer     string `env:"TOKEN_ISSUER" env-default:"authhero"`
	SigningKey string `env:"TOKEN_SIGNING_KEY" env-default:"very-secure-signing-key"`
	CodeTTL    string `env:"AUTHORIZATION_CODE_TTL" env-default:"PT10M"`
	IDTokenTTL string `env:"ID_TOKEN_TTL" env-default:"PT1H"`
}

// NewTokenConfigFromEnv creates a TokenConfig from environment variables
func NewTokenConfigFromEnv() TokenConfig {
	return TokenConfig{
		Issuer:     GetEnvOrDefault("TOKEN_ISSUER", "authhero"),
		SigningKey: GetEnvOrDefault("TOKEN_SIGNING_KEY", defaultSigningKey),
		CodeTTL:    GetEnvOrDefault("AUTHORIZATION_CODE_TTL", "PT10M"),
		IDTokenTTL: GetEnvOrDefault("ID_TOKEN_TTL", "PT1H"),
	}
}

// Validate rejects the default signing key in production.
func (t TokenConfig) Validate() ValidationErrors {
	_, codeErr := positiveDurationField("AUTHORIZATION_CODE_TTL", t.CodeTTL)
	_, tokenErr := positiveDurationField("ID_TOKEN_TTL", t.IDTokenTTL)
	errs := CollectErrors(RequireNonEmpty("TOKEN_SIGNING_KEY", t.SigningKey), codeErr, tokenErr)
	if IsProduction() && t.SigningKey == defaultSigningKey {
		errs = append(errs, ValidationError{Field: "TOKEN_SIGNING_KEY", Message: "must be changed in production"})
	}
	return errs
}

// ToBuilderConfig converts the config for frontchannel.NewDefaultBuilder.
func (t TokenConfig) ToBuilderConfig() (frontchannel.DefaultBuilderConfig, error) {
	if errs := t.Validate(); errs.HasErrors() {
		return frontchannel.DefaultBuilderConfig{}, errs
	}
	codeTTL, _ := ParseDuration(t.CodeTTL)
	tokenTTL, _ := ParseDuration(t.IDTokenTTL)
	return frontchannel.DefaultBuilderConfig{
		Issuer:     t.Issuer,
		SigningKey: []byte(t.SigningKey),
		CodeTTL:    codeTTL,
		TokenTTL:   tokenTTL,
	}, nil
}
