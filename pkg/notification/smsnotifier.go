package notification

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

type TwilioConfig struct {
	AccountSid string
	AuthToken  string
	From       string
}

// messageCreator is the part of the Twilio REST API the notifier uses.
type messageCreator interface {
	CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error)
}

// SMSNotifier sends text messages through Twilio.
type SMSNotifier struct {
	from string
	api  messageCreator
}

func NewSMSNotifier(config TwilioConfig) (*SMSNotifier, error) {
	if config.AccountSid == "" || config.AuthToken == "" {
		return nil, fmt.Errorf("twilio account sid and auth token are required")
	}
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: config.AccountSid,
		Password: config.AuthToken,
	})
	return &SMSNotifier{from: config.From, api: client.Api}, nil
}

func (s *SMSNotifier) Send(ctx context.Context, msg Message) error {
	if msg.To == "" || msg.Text == "" {
		return fmt.Errorf("SMS notification requires a recipient and a body")
	}

	params := &twilioApi.CreateMessageParams{}
	params.SetTo(msg.To)
	params.SetFrom(s.from)
	params.SetBody(msg.Text)

	resp, err := s.api.CreateMessage(params)
	if err != nil {
		return fmt.Errorf("failed to send sms: %w", err)
	}
	sid := ""
	if resp != nil && resp.Sid != nil {
		sid = *resp.Sid
	}
	slog.InfoContext(ctx, "Sent sms", "to", msg.To, "sid", sid)
	return nil
}
