package notification

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingNotifier struct {
	sent []Message
	err  error
}

func (r *recordingNotifier) Send(ctx context.Context, msg Message) error {
	r.sent = append(r.sent, msg)
	return r.err
}

type codeData struct {
	Code      string
	ExpiresIn string
}

func TestManager_Notify(t *testing.T) {
	email := &recordingNotifier{}
	sms := &recordingNotifier{}
	m := NewManager()
	m.RegisterNotifier(ChannelEmail, email)
	m.RegisterNotifier(ChannelSMS, sms)
	ctx := context.Background()

	require.NoError(t, m.Notify(ctx, KindLoginCode, ChannelEmail, "a@b.com", codeData{Code: "123456", ExpiresIn: "5m0s"}))
	require.Len(t, email.sent, 1)
	assert.Equal(t, "a@b.com", email.sent[0].To)
	assert.Equal(t, "Your login code", email.sent[0].Subject)
	assert.Contains(t, email.sent[0].Text, "123456")
	assert.Contains(t, email.sent[0].HTML, "<strong>123456</strong>")

	require.NoError(t, m.Notify(ctx, KindLoginCode, ChannelSMS, "+46701234567", codeData{Code: "654321"}))
	require.Len(t, sms.sent, 1)
	assert.Empty(t, sms.sent[0].HTML)
	assert.Contains(t, sms.sent[0].Text, "654321")
}

func TestManager_CustomTemplate(t *testing.T) {
	email := &recordingNotifier{}
	m := NewManager()
	m.RegisterNotifier(ChannelEmail, email)

	assert.Error(t, m.RegisterTemplate(KindLoginCode, Template{Subject: "missing text"}))
	require.NoError(t, m.RegisterTemplate(KindLoginCode, Template{Subject: "Code", Text: "code={{.Code}}"}))

	require.NoError(t, m.Notify(context.Background(), KindLoginCode, ChannelEmail, "a@b.com", codeData{Code: "1"}))
	assert.Equal(t, "code=1", email.sent[0].Text)
	assert.Empty(t, email.sent[0].HTML)
}

func TestManager_Errors(t *testing.T) {
	failing := &recordingNotifier{err: errors.New("smtp down")}
	m := NewManager()
	m.RegisterNotifier(ChannelEmail, failing)
	ctx := context.Background()

	assert.EqualError(t, m.Notify(ctx, KindLoginCode, ChannelEmail, "a@b.com", codeData{}), "smtp down")
	assert.Error(t, m.Notify(ctx, Kind("unknown"), ChannelEmail, "a@b.com", nil))

	// channels without a notifier are logged
	assert.NoError(t, m.Notify(ctx, KindLoginCode, ChannelSMS, "+46701234567", codeData{}))
}

func TestEmailNotifier_BuildMessage(t *testing.T) {
	n, err := NewEmailNotifier(SMTPConfig{Host: "localhost", Port: 2525, From: "noreply@example.com"})
	require.NoError(t, err)

	_, err = n.buildMessage(Message{Text: "hi"})
	assert.Error(t, err)

	msg, err := n.buildMessage(Message{To: "a@b.com", Subject: "Hello", Text: "hi", HTML: "<p>hi</p>"})
	require.NoError(t, err)
	assert.NotNil(t, msg)

	_, err = n.buildMessage(Message{To: "not an address", Text: "hi"})
	assert.Error(t, err)
}
