package telephony

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProcessor struct {
	turns     []TurnEvent
	statuses  []StatusEvent
	directive Directive
	statusErr error
}

func (f *fakeProcessor) HandleTurn(_ context.Context, ev TurnEvent) Directive {
	f.turns = append(f.turns, ev)
	return f.directive
}

func (f *fakeProcessor) HandleStatus(_ context.Context, ev StatusEvent) error {
	f.statuses = append(f.statuses, ev)
	return f.statusErr
}

func webhookRouter(p TurnProcessor) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := TwilioWebhookHandler{Processor: p, Renderer: Renderer{PublicBaseURL: "https://agent.example.com"}}
	r := gin.New()
	r.POST("/api/twilio/voice", h.Voice)
	r.POST("/api/twilio/status", h.Status)
	return r
}

func TestVoiceWebhook_RendersDirective(t *testing.T) {
	p := &fakeProcessor{directive: Directive{CallID: "c-1", Say: "How can I help?"}}
	r := webhookRouter(p)

	form := url.Values{"CallSid": {"CA1"}, "SpeechResult": {"hello"}, "CallStatus": {"in-progress"}}
	req, _ := http.NewRequest(http.MethodPost, "/api/twilio/voice?callId=c-1", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set(HeaderIdempotencyToken, "tok-9")
	w := doRequest(r, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "application/xml")
	assert.Contains(t, w.Body.String(), "<Gather")
	assert.Contains(t, w.Body.String(), "How can I help?")

	require.Len(t, p.turns, 1)
	assert.Equal(t, "c-1", p.turns[0].CallID)
	assert.Equal(t, "CA1", p.turns[0].CallSID)
	assert.Equal(t, "hello", p.turns[0].Speech)
	assert.Equal(t, "tok-9", p.turns[0].IdempotencyToken)
}

func TestVoiceWebhook_HangupDirective(t *testing.T) {
	p := &fakeProcessor{directive: Directive{CallID: "c-1", Say: "Goodbye.", Hangup: true}}
	w := postForm(webhookRouter(p), "/api/twilio/voice?callId=c-1", url.Values{"CallSid": {"CA1"}}, "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "<Hangup/>")
	assert.NotContains(t, w.Body.String(), "<Gather")
}

func TestStatusWebhook(t *testing.T) {
	p := &fakeProcessor{}
	w := postForm(webhookRouter(p), "/api/twilio/status?callId=c-1", url.Values{"CallSid": {"CA1"}, "CallStatus": {"completed"}}, "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"ok":true}`, w.Body.String())
	require.Len(t, p.statuses, 1)
	assert.Equal(t, StatusEvent{CallID: "c-1", CallSID: "CA1", CallStatus: "completed"}, p.statuses[0])
}

func TestStatusWebhook_ProcessorError(t *testing.T) {
	p := &fakeProcessor{statusErr: errors.New("db down")}
	w := postForm(webhookRouter(p), "/api/twilio/status?callId=c-1", url.Values{"CallSid": {"CA1"}, "CallStatus": {"completed"}}, "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func doRequest(r http.Handler, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}
