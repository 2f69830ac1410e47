package telephony

import (
	"net/url"
	"strings"

	"github.com/twilio/twilio-go/twiml"
)

// Directive is what the caller should hear next. Hangup=false means speak
// and keep listening for the contact's reply.
type Directive struct {
	CallID string `json:"call_id,omitempty"`
	Say    string `json:"say"`
	Hangup bool   `json:"hangup"`
}

// Renderer turns directives into TwiML.
type Renderer struct {
	// PublicBaseURL is the externally reachable origin of this service.
	PublicBaseURL string
	Voice         string
	Language      string
}

const (
	DefaultVoice    = "Polly.Joanna"
	DefaultLanguage = "en-US"
)

// VoiceURL is the turn webhook URL for callID.
func (r Renderer) VoiceURL(callID string) string {
	return r.webhookURL("/api/twilio/voice", callID)
}

// StatusURL is the status callback URL for callID.
func (r Renderer) StatusURL(callID string) string {
	return r.webhookURL("/api/twilio/status", callID)
}

func (r Renderer) webhookURL(path, callID string) string {
	u := strings.TrimRight(r.PublicBaseURL, "/") + path
	if callID != "" {
		u += "?callId=" + url.QueryEscape(callID)
	}
	return u
}

func (r Renderer) voice() string {
	if r.Voice == "" {
		return DefaultVoice
	}
	return r.Voice
}

func (r Renderer) language() string {
	if r.Language == "" {
		return DefaultLanguage
	}
	return r.Language
}

// Render produces either Say+Hangup, or Gather(Say) followed by a one second Pause.
func (r Renderer) Render(d Directive) (string, error) {
	say := &twiml.VoiceSay{Message: d.Say, Voice: r.voice()}

	var verbs []twiml.Element
	if d.Hangup || d.CallID == "" {
		if d.Say != "" {
			verbs = append(verbs, say)
		}
		verbs = append(verbs, &twiml.VoiceHangup{})
	} else {
		verbs = append(verbs,
			&twiml.VoiceGather{
				Input:         "speech",
				Method:        "POST",
				Action:        r.VoiceURL(d.CallID),
				SpeechTimeout: "auto",
				Enhanced:      "true",
				SpeechModel:   "phone_call",
				Language:      r.language(),
				InnerElements: []twiml.Element{say},
			},
			&twiml.VoicePause{Length: "1"},
		)
	}
	return twiml.Voice(verbs)
}
