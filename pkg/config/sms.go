package config

import (
	"github.com/markusahlstrand/authhero-sub008/pkg/notification"
)

// SMSConfig holds Twilio credentials. SMS delivery is disabled until both
// the account sid and the auth token are set.
type SMSConfig struct {
	TwilioAccountSid string `env:"TWILIO_ACCOUNT_SID"`
	TwilioAuthToken  string `env:"TWILIO_AUTH_TOKEN"`
	TwilioFrom       string `env:"TWILIO_FROM" env-default:"+15005550006"`
}

func (s SMSConfig) Enabled() bool {
	return s.TwilioAccountSid != "" && s.TwilioAuthToken != ""
}

func (s SMSConfig) ToTwilioConfig() notification.TwilioConfig {
	return notification.TwilioConfig{
		AccountSid: s.TwilioAccountSid,
		AuthToken:  s.TwilioAuthToken,
		From:       s.TwilioFrom,
	}
}

func NewSMSConfigFromEnv() SMSConfig {
	return SMSConfig{
		TwilioAccountSid: GetEnv("TWILIO_ACCOUNT_SID"),
		TwilioAuthToken:  GetEnv("TWILIO_AUTH_TOKEN"),
		TwilioFrom:       GetEnvOrDefault("TWILIO_FROM", "+15005550006"),
	}
}

// Validate requires a sender number once SMS is enabled.
func (s SMSConfig) Validate() ValidationErrors {
	if !s.Enabled() {
		return nil
	}
	return CollectErrors(RequireNonEmpty("TWILIO_FROM", s.TwilioFrom))
}
