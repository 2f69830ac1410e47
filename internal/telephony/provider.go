package telephony

import (
	"context"
	"errors"
)

// ErrProvider wraps every failed request to the voice provider.
var ErrProvider = errors.New("telephony: provider request failed")

// VoiceProvider is the provider-agnostic surface used by business logic.
//
// Rules:
// - No provider SDK calls outside telephony adapters.
// - Errors returned from adapters wrap ErrProvider.
type VoiceProvider interface {
	Name() string

	// Originate places an outbound call and returns the provider call id.
	Originate(ctx context.Context, req OriginateRequest) (string, error)

	// Hangup ends a live call.
	Hangup(ctx context.Context, callSID string) error
}

// OriginateRequest describes an outbound call. From defaults to the adapter's number.
type OriginateRequest struct {
	To   string `json:"to"`
	From string `json:"from,omitempty"`

	// AnswerURL is fetched when the callee answers and returns the first TwiML.
	AnswerURL string `json:"answer_url"`

	// StatusCallbackURL receives lifecycle events.
	StatusCallbackURL string `json:"status_callback_url"`
}
