package notification

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

type fakeMessages struct {
	params []*twilioApi.CreateMessageParams
	err    error
}

func (f *fakeMessages) CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error) {
	f.params = append(f.params, params)
	if f.err != nil {
		return nil, f.err
	}
	sid := "SM123"
	return &twilioApi.ApiV2010Message{Sid: &sid}, nil
}

func TestSMSNotifier_Send(t *testing.T) {
	api := &fakeMessages{}
	n := &SMSNotifier{from: "+15005550006", api: api}

	require.NoError(t, n.Send(context.Background(), Message{Channel: ChannelSMS, To: "+46701234567", Text: "Your code is 123456"}))
	require.Len(t, api.params, 1)
	assert.Equal(t, "+46701234567", *api.params[0].To)
	assert.Equal(t, "+15005550006", *api.params[0].From)
	assert.Equal(t, "Your code is 123456", *api.params[0].Body)
}

func TestSMSNotifier_Errors(t *testing.T) {
	api := &fakeMessages{err: errors.New("unreachable")}
	n := &SMSNotifier{api: api}

	assert.Error(t, n.Send(context.Background(), Message{To: "+46701234567"}))
	assert.Empty(t, api.params)
	assert.ErrorContains(t, n.Send(context.Background(), Message{To: "+46701234567", Text: "hi"}), "unreachable")

	_, err := NewSMSNotifier(TwilioConfig{From: "+15005550006"})
	assert.Error(t, err)
}
