package telephony

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/twilio/twilio-go"
	twclient "github.com/twilio/twilio-go/client"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"
)

// CallsAPI is the slice of the Twilio REST API used here. *openapi.ApiService
// satisfies it, as do in-memory simulators.
type CallsAPI interface {
	CreateCall(params *openapi.CreateCallParams) (*openapi.ApiV2010Call, error)
	UpdateCall(sid string, params *openapi.UpdateCallParams) (*openapi.ApiV2010Call, error)
}

var statusCallbackEvents = []string{"initiated", "ringing", "answered", "completed"}

type TwilioProvider struct {
	api  CallsAPI
	from string
}

// NewTwilioProvider builds a REST client from account credentials.
func NewTwilioProvider(accountSID, authToken, fromNumber string) (*TwilioProvider, error) {
	if accountSID == "" || authToken == "" {
		return nil, errors.New("telephony: twilio credentials are required")
	}
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSID,
		Password: authToken,
	})
	return NewTwilioProviderWithAPI(client.Api, fromNumber)
}

func NewTwilioProviderWithAPI(api CallsAPI, fromNumber string) (*TwilioProvider, error) {
	if api == nil {
		return nil, errors.New("telephony: twilio api is nil")
	}
	if strings.TrimSpace(fromNumber) == "" {
		return nil, errors.New("telephony: twilio caller number is required")
	}
	return &TwilioProvider{api: api, from: fromNumber}, nil
}

func (p *TwilioProvider) Name() string { return "twilio" }

func (p *TwilioProvider) Originate(ctx context.Context, req OriginateRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %w", ErrProvider, err)
	}
	if req.To == "" || req.AnswerURL == "" {
		return "", fmt.Errorf("%w: to and answer url are required", ErrProvider)
	}
	from := req.From
	if from == "" {
		from = p.from
	}

	params := &openapi.CreateCallParams{}
	params.SetTo(req.To)
	params.SetFrom(from)
	params.SetUrl(req.AnswerURL)
	params.SetMethod("POST")
	params.SetMachineDetection("DetectMessageEnd")
	if req.StatusCallbackURL != "" {
		params.SetStatusCallback(req.StatusCallbackURL)
		params.SetStatusCallbackMethod("POST")
		params.SetStatusCallbackEvent(statusCallbackEvents)
	}

	resp, err := p.api.CreateCall(params)
	if err != nil {
		return "", providerError("create call", err)
	}
	if resp == nil || resp.Sid == nil || *resp.Sid == "" {
		return "", fmt.Errorf("%w: create call returned no sid", ErrProvider)
	}
	return *resp.Sid, nil
}

func (p *TwilioProvider) Hangup(ctx context.Context, callSID string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrProvider, err)
	}
	if callSID == "" {
		return fmt.Errorf("%w: call sid is required", ErrProvider)
	}
	params := &openapi.UpdateCallParams{}
	params.SetStatus("completed")
	if _, err := p.api.UpdateCall(callSID, params); err != nil {
		return providerError("update call", err)
	}
	return nil
}

func providerError(op string, err error) error {
	var restErr *twclient.TwilioRestError
	if errors.As(err, &restErr) {
		return fmt.Errorf("%w: %s: twilio %d: %s", ErrProvider, op, restErr.Code, restErr.Message)
	}
	return fmt.Errorf("%w: %s: %w", ErrProvider, op, err)
}
