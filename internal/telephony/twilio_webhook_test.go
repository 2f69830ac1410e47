package telephony

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestParseTwilioVoiceForm(t *testing.T) {
	body := strings.NewReader("CallSid=CA123&From=%2B15551234567&To=%2B15557654321&SpeechResult=+Yes+please+&CallStatus=in-progress")
	r := httptest.NewRequest(http.MethodPost, "/api/twilio/voice?callId=c-1", body)
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	form, err := ParseTwilioVoiceForm(r)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if form.CallSid != "CA123" {
		t.Fatalf("expected CallSid")
	}
	if form.From != "+15551234567" || form.To != "+15557654321" {
		t.Fatalf("unexpected from/to: %q %q", form.From, form.To)
	}
	if form.SpeechResult != "Yes please" {
		t.Fatalf("expected trimmed speech, got %q", form.SpeechResult)
	}

	ev := form.TurnEvent(" c-1 ", "tok-1")
	if ev.CallID != "c-1" || ev.CallSID != "CA123" || ev.Speech != "Yes please" || ev.CallStatus != "in-progress" {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if ev.IdempotencyToken != "tok-1" {
		t.Fatalf("expected idempotency token")
	}

	st := form.StatusEvent("c-1")
	if st.CallID != "c-1" || st.CallSID != "CA123" || st.CallStatus != "in-progress" {
		t.Fatalf("unexpected status event: %+v", st)
	}
}
