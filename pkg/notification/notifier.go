// Package notification delivers one-time codes to users by email or SMS.
package notification

import (
	"context"
	"log/slog"
)

// Channel is a delivery medium.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
)

// Message is a rendered notification.
type Message struct {
	Channel Channel
	To      string
	Subject string
	Text    string
	HTML    string
}

type Notifier interface {
	Send(ctx context.Context, msg Message) error
}

// LogNotifier writes messages to the log instead of delivering them. It is
// used for channels without a configured provider.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n LogNotifier) Send(ctx context.Context, msg Message) error {
	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "Notification not delivered, no provider configured",
		"channel", msg.Channel, "to", msg.To, "subject", msg.Subject, "text", msg.Text)
	return nil
}
