package telephony

import (
	"strings"
	"testing"
)

func TestRenderHangup(t *testing.T) {
	r := Renderer{PublicBaseURL: "https://agent.example.com"}
	xml, err := r.Render(Directive{CallID: "c-1", Say: "Thanks, goodbye.", Hangup: true})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	for _, want := range []string{`<Say voice="Polly.Joanna">Thanks, goodbye.</Say>`, "<Hangup/>"} {
		if !strings.Contains(xml, want) {
			t.Fatalf("expected %q in xml: %s", want, xml)
		}
	}
	if strings.Contains(xml, "<Gather") {
		t.Fatalf("hangup must not gather: %s", xml)
	}
	if !strings.HasPrefix(xml, `<?xml version="1.0" encoding="UTF-8"?><Response>`) {
		t.Fatalf("expected a Response document: %s", xml)
	}
}

func TestRenderGatherLoopsBack(t *testing.T) {
	r := Renderer{PublicBaseURL: "https://agent.example.com/", Language: "en-GB"}
	xml, err := r.Render(Directive{CallID: "c-1", Say: "Does Tuesday work?"})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	for _, want := range []string{
		`input="speech"`,
		`method="POST"`,
		`action="https://agent.example.com/api/twilio/voice?callId=c-1"`,
		`speechTimeout="auto"`,
		`enhanced="true"`,
		`speechModel="phone_call"`,
		`language="en-GB"`,
		`<Say voice="Polly.Joanna">Does Tuesday work?</Say>`,
		`<Pause length="1"/>`,
	} {
		if !strings.Contains(xml, want) {
			t.Fatalf("expected %q in xml: %s", want, xml)
		}
	}
	if strings.Index(xml, "<Gather") > strings.Index(xml, "<Pause") {
		t.Fatalf("pause must follow gather: %s", xml)
	}
	if !strings.Contains(xml, "Does Tuesday work?</Say></Gather>") {
		t.Fatalf("say must be nested in gather: %s", xml)
	}
}

func TestRenderEscapesSpeech(t *testing.T) {
	xml, err := Renderer{}.Render(Directive{Say: "Tom & Jerry <3", Hangup: true})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !strings.Contains(xml, "Tom &amp; Jerry &lt;3") {
		t.Fatalf("expected escaped text: %s", xml)
	}
}

func TestRenderWithoutCallIDHangsUp(t *testing.T) {
	xml, err := Renderer{}.Render(Directive{Say: "Goodbye."})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !strings.Contains(xml, "<Hangup") {
		t.Fatalf("expected hangup without call id: %s", xml)
	}
	if strings.Contains(xml, "<Gather") {
		t.Fatalf("no gather without a call to return to: %s", xml)
	}
}

func TestWebhookURLs(t *testing.T) {
	r := Renderer{PublicBaseURL: "https://agent.example.com"}
	if got := r.StatusURL("a b"); got != "https://agent.example.com/api/twilio/status?callId=a+b" {
		t.Fatalf("unexpected status url: %s", got)
	}
}
