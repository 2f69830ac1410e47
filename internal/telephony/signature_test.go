package telephony

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

type fakeValidator struct {
	ok      bool
	gotURL  string
	gotForm map[string]string
}

func (f *fakeValidator) Validate(u string, params map[string]string, _ string) bool {
	f.gotURL = u
	f.gotForm = params
	return f.ok
}

func signedRouter(v SignatureValidator) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/api/twilio/voice", RequireTwilioSignature(v, "https://agent.example.com/"), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	return r
}

func postForm(r http.Handler, target string, form url.Values, sig string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if sig != "" {
		req.Header.Set(headerTwilioSignature, sig)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRequireTwilioSignature_Missing(t *testing.T) {
	w := postForm(signedRouter(&fakeValidator{ok: true}), "/api/twilio/voice", url.Values{"CallSid": {"CA1"}}, "")
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestRequireTwilioSignature_Invalid(t *testing.T) {
	w := postForm(signedRouter(&fakeValidator{ok: false}), "/api/twilio/voice", url.Values{"CallSid": {"CA1"}}, "bogus")
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestRequireTwilioSignature_RebuildsPublicURL(t *testing.T) {
	v := &fakeValidator{ok: true}
	w := postForm(signedRouter(v), "/api/twilio/voice?callId=c-1", url.Values{"CallSid": {"CA1"}, "SpeechResult": {"hi"}}, "sig")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://agent.example.com/api/twilio/voice?callId=c-1", v.gotURL)
	assert.Equal(t, map[string]string{"CallSid": "CA1", "SpeechResult": "hi"}, v.gotForm)
}

func TestRequireTwilioSignature_RealValidator(t *testing.T) {
	const token = "secret-token"
	form := url.Values{"CallSid": {"CA1"}, "From": {"+15551234567"}}
	fullURL := "https://agent.example.com/api/twilio/voice?callId=c-1"

	r := signedRouter(NewSignatureValidator(token))

	w := postForm(r, "/api/twilio/voice?callId=c-1", form, sign(token, fullURL, form))
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = postForm(r, "/api/twilio/voice?callId=c-2", form, sign(token, fullURL, form))
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func sign(token, fullURL string, form url.Values) string {
	pairs := make([]string, 0, len(form))
	for k := range form {
		pairs = append(pairs, k+form.Get(k))
	}
	sort.Strings(pairs)
	mac := hmac.New(sha1.New, []byte(token))
	mac.Write([]byte(fullURL + strings.Join(pairs, "")))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
