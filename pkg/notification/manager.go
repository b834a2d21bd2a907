package notification

import (
	"bytes"
	"context"
	"fmt"
	htmltemplate "html/template"
	"text/template"
)

// Template renders one notification kind. Text is required, HTML is only
// used for email.
type Template struct {
	Subject string
	Text    string
	HTML    string
}

// Kind names a notification.
type Kind string

const (
	KindLoginCode         Kind = "login_code"
	KindEmailVerification Kind = "email_verification"
)

// DefaultTemplates are used for kinds without a registered template.
var DefaultTemplates = map[Kind]Template{
	KindLoginCode: {
		Subject: "Your login code",
		Text:    "Your login code is {{.Code}}. It expires in {{.ExpiresIn}}.",
		HTML:    "<p>Your login code is <strong>{{.Code}}</strong>.</p><p>It expires in {{.ExpiresIn}}.</p>",
	},
	KindEmailVerification: {
		Subject: "Verify your email address",
		Text:    "Enter {{.Code}} to verify your email address.",
		HTML:    "<p>Enter <strong>{{.Code}}</strong> to verify your email address.</p>",
	},
}

// Manager renders templates and routes messages to the notifier of their
// channel.
type Manager struct {
	notifiers map[Channel]Notifier
	templates map[Kind]Template
	fallback  Notifier
}

func NewManager() *Manager {
	return &Manager{
		notifiers: make(map[Channel]Notifier),
		templates: make(map[Kind]Template),
		fallback:  LogNotifier{},
	}
}

// RegisterNotifier sets the notifier for a channel.
func (m *Manager) RegisterNotifier(channel Channel, n Notifier) {
	m.notifiers[channel] = n
}

// RegisterTemplate overrides the default template of kind.
func (m *Manager) RegisterTemplate(kind Kind, t Template) error {
	if t.Text == "" {
		return fmt.Errorf("template %s requires a text body", kind)
	}
	m.templates[kind] = t
	return nil
}

// Notify renders kind with data and sends it to the recipient.
func (m *Manager) Notify(ctx context.Context, kind Kind, channel Channel, to string, data any) error {
	t, ok := m.templates[kind]
	if !ok {
		t, ok = DefaultTemplates[kind]
	}
	if !ok {
		return fmt.Errorf("no template registered for %s", kind)
	}

	msg := Message{Channel: channel, To: to, Subject: t.Subject}
	var err error
	if msg.Text, err = renderText(t.Text, data); err != nil {
		return err
	}
	if channel == ChannelEmail && t.HTML != "" {
		if msg.HTML, err = renderHTML(t.HTML, data); err != nil {
			return err
		}
	}

	n, ok := m.notifiers[channel]
	if !ok {
		n = m.fallback
	}
	return n.Send(ctx, msg)
}

func renderText(src string, data any) (string, error) {
	tmpl, err := template.New("text").Parse(src)
	if err != nil {
		return "", fmt.Errorf("failed to parse text template: %w", err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute text template: %w", err)
	}
	return buf.String(), nil
}

func renderHTML(src string, data any) (string, error) {
	tmpl, err := htmltemplate.New("html").Parse(src)
	if err != nil {
		return "", fmt.Errorf("failed to parse HTML template: %w", err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute HTML template: %w", err)
	}
	return buf.String(), nil
}
