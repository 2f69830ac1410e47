package telephony

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	twclient "github.com/twilio/twilio-go/client"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"
)

type fakeCallsAPI struct {
	created   *openapi.CreateCallParams
	updated   *openapi.UpdateCallParams
	updateSID string
	createErr error
	updateErr error
}

func (f *fakeCallsAPI) CreateCall(params *openapi.CreateCallParams) (*openapi.ApiV2010Call, error) {
	f.created = params
	if f.createErr != nil {
		return nil, f.createErr
	}
	sid := "CA0001"
	return &openapi.ApiV2010Call{Sid: &sid}, nil
}

func (f *fakeCallsAPI) UpdateCall(sid string, params *openapi.UpdateCallParams) (*openapi.ApiV2010Call, error) {
	f.updateSID = sid
	f.updated = params
	if f.updateErr != nil {
		return nil, f.updateErr
	}
	return &openapi.ApiV2010Call{Sid: &sid}, nil
}

func TestTwilioOriginate(t *testing.T) {
	api := &fakeCallsAPI{}
	p, err := NewTwilioProviderWithAPI(api, "+15550000000")
	require.NoError(t, err)

	sid, err := p.Originate(context.Background(), OriginateRequest{
		To:                "+15551112222",
		AnswerURL:         "https://agent.example.com/api/twilio/voice?callId=c-1",
		StatusCallbackURL: "https://agent.example.com/api/twilio/status?callId=c-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "CA0001", sid)

	require.NotNil(t, api.created)
	assert.Equal(t, "+15551112222", *api.created.To)
	assert.Equal(t, "+15550000000", *api.created.From)
	assert.Equal(t, "DetectMessageEnd", *api.created.MachineDetection)
	assert.Equal(t, []string{"initiated", "ringing", "answered", "completed"}, *api.created.StatusCallbackEvent)
	assert.Equal(t, "https://agent.example.com/api/twilio/status?callId=c-1", *api.created.StatusCallback)
}

func TestTwilioOriginate_ErrorWrapsProvider(t *testing.T) {
	api := &fakeCallsAPI{createErr: &twclient.TwilioRestError{Code: 21211, Message: "Invalid 'To' Phone Number", Status: 400}}
	p, err := NewTwilioProviderWithAPI(api, "+15550000000")
	require.NoError(t, err)

	_, err = p.Originate(context.Background(), OriginateRequest{To: "+1", AnswerURL: "https://x"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrProvider))
	assert.Contains(t, err.Error(), "21211")
}

func TestTwilioHangup(t *testing.T) {
	api := &fakeCallsAPI{}
	p, err := NewTwilioProviderWithAPI(api, "+15550000000")
	require.NoError(t, err)

	require.NoError(t, p.Hangup(context.Background(), "CA0001"))
	assert.Equal(t, "CA0001", api.updateSID)
	assert.Equal(t, "completed", *api.updated.Status)

	assert.ErrorIs(t, p.Hangup(context.Background(), ""), ErrProvider)

	api.updateErr = errors.New("network down")
	assert.ErrorIs(t, p.Hangup(context.Background(), "CA0001"), ErrProvider)
}

func TestNewTwilioProvider_RequiresConfig(t *testing.T) {
	_, err := NewTwilioProvider("", "", "+15550000000")
	assert.Error(t, err)
	_, err = NewTwilioProviderWithAPI(&fakeCallsAPI{}, "")
	assert.Error(t, err)
}
