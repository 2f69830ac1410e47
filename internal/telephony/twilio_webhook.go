package telephony

import (
	"net/http"
	"strings"
)

// HeaderIdempotencyToken is sent by Twilio on every webhook attempt and is
// stable across retries of the same delivery.
const HeaderIdempotencyToken = "I-Twilio-Idempotency-Token"

// TwilioVoiceForm captures the subset of voice webhook fields we care about.
// Twilio sends application/x-www-form-urlencoded by default.
// Ref: https://www.twilio.com/docs/voice/twiml
type TwilioVoiceForm struct {
	CallSid      string
	AccountSid   string
	From         string
	To           string
	Direction    string
	CallStatus   string
	SpeechResult string
	AnsweredBy   string
}

func ParseTwilioVoiceForm(r *http.Request) (TwilioVoiceForm, error) {
	if err := r.ParseForm(); err != nil {
		return TwilioVoiceForm{}, err
	}
	return TwilioVoiceForm{
		CallSid:      strings.TrimSpace(r.PostFormValue("CallSid")),
		AccountSid:   r.PostFormValue("AccountSid"),
		From:         normalizePhone(r.PostFormValue("From")),
		To:           normalizePhone(r.PostFormValue("To")),
		Direction:    r.PostFormValue("Direction"),
		CallStatus:   strings.TrimSpace(r.PostFormValue("CallStatus")),
		SpeechResult: strings.TrimSpace(r.PostFormValue("SpeechResult")),
		AnsweredBy:   r.PostFormValue("AnsweredBy"),
	}, nil
}

func normalizePhone(s string) string {
	s = strings.TrimSpace(s)
	// Twilio sometimes sends "anonymous" or empty; keep as-is.
	return s
}

// TurnEvent is one voice webhook delivery.
type TurnEvent struct {
	// CallID is the internal id from the callback URL, empty for inbound calls.
	CallID           string
	CallSID          string
	Speech           string
	CallStatus       string
	From             string
	To               string
	IdempotencyToken string
}

func (f TwilioVoiceForm) TurnEvent(callID, idempotencyToken string) TurnEvent {
	return TurnEvent{
		CallID:           strings.TrimSpace(callID),
		CallSID:          f.CallSid,
		Speech:           f.SpeechResult,
		CallStatus:       f.CallStatus,
		From:             f.From,
		To:               f.To,
		IdempotencyToken: strings.TrimSpace(idempotencyToken),
	}
}

// StatusEvent is one status callback delivery.
type StatusEvent struct {
	CallID     string
	CallSID    string
	CallStatus string
}

func (f TwilioVoiceForm) StatusEvent(callID string) StatusEvent {
	return StatusEvent{CallID: strings.TrimSpace(callID), CallSID: f.CallSid, CallStatus: f.CallStatus}
}
