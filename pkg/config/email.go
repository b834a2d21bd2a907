package config

import (
	"github.com/markusahlstrand/authhero-sub008/pkg/notification"
)

// EmailConfig holds SMTP settings. Email delivery is disabled while Host is
// empty; codes are then only logged.
type EmailConfig struct {
	Host     string `env:"EMAIL_HOST"`
	Port     uint16 `env:"EMAIL_PORT" env-default:"1025"`
	Username string `env:"EMAIL_USERNAME"`
	Password string `env:"EMAIL_PASSWORD"`
	From     string `env:"EMAIL_FROM" env-default:"noreply@example.com"`
	TLS      bool   `env:"EMAIL_TLS" env-default:"false"`
}

// Enabled reports whether an SMTP server is configured.
func (e EmailConfig) Enabled() bool {
	return e.Host != ""
}

// ToSMTPConfig converts the config to a notification.SMTPConfig
func (e EmailConfig) ToSMTPConfig() notification.SMTPConfig {
	return notification.SMTPConfig{
		Host:     e.Host,
		Port:     int(e.Port),
		Username: e.Username,
		Password: e.Password,
		From:     e.From,
		TLS:      e.TLS,
	}
}

// NewEmailConfigFromEnv creates an EmailConfig from environment variables
func NewEmailConfigFromEnv() EmailConfig {
	return EmailConfig{
		Host:     GetEnv("EMAIL_HOST"),
		Port:     GetEnvUint16("EMAIL_PORT", 1025),
		Username: GetEnv("EMAIL_USERNAME"),
		Password: GetEnv("EMAIL_PASSWORD"),
		From:     GetEnvOrDefault("EMAIL_FROM", "noreply@example.com"),
		TLS:      GetEnvBool("EMAIL_TLS", false),
	}
}
