package agent

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"phone-agent/internal/ai"
	"phone-agent/internal/calls"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockProvider struct {
	mock.Mock
}

func (m *mockProvider) Complete(ctx context.Context, req ai.Request) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func strPtr(s string) *string { return &s }

func TestBuildSystemPrompt_Order(t *testing.T) {
	goal := "Confirm Tuesday 3pm appointment"
	in := TurnInput{
		Call: calls.Call{Goal: &goal},
		Contact: &calls.Contact{
			Name:        "Dana Reyes",
			PhoneNumber: "+15550002222",
			Notes:       strPtr("Prefers mornings"),
			Instruction: strPtr("Use her first name."),
		},
		Instructions: []calls.Instruction{{Content: "Be brief."}, {Content: "Be polite."}},
		Memory:       &calls.Summary{Text: "Spoke last week.", NextSteps: strPtr("Send directions")},
	}
	p := BuildSystemPrompt(in)

	order := []string{
		preamble,
		"Custom instructions:\nBe brief.\n\nBe polite.",
		"Contact-specific instruction: Use her first name.",
		"Call goal: Confirm Tuesday 3pm appointment",
		"Contact profile: Dana Reyes (+15550002222) | Notes: Prefers mornings",
		"Recent call memory:\nSpoke last week.",
		"Outstanding follow-ups:\nSend directions",
		closingDirective,
	}
	last := -1
	for _, piece := range order {
		i := strings.Index(p, piece)
		require.GreaterOrEqual(t, i, 0, "missing %q", piece)
		require.Greater(t, i, last, "out of order: %q", piece)
		last = i
	}
}

func TestBuildSystemPrompt_PreambleDirectives(t *testing.T) {
	p := BuildSystemPrompt(TurnInput{})
	assert.True(t, strings.HasPrefix(p, preamble))
	assert.Contains(t, p, "Confirm critical details back to the contact.")
	assert.Contains(t, p, "Politely decline requests for sensitive data.")
	assert.Contains(t, p, "never mention that you are an AI")
}

func TestBuildSystemPrompt_SkipsPendingMemory(t *testing.T) {
	p := BuildSystemPrompt(TurnInput{Memory: &calls.Summary{Text: calls.PendingSummary, NextSteps: strPtr("Call back")}})
	assert.NotContains(t, p, "Recent call memory")
	assert.Contains(t, p, "Outstanding follow-ups:\nCall back")
	assert.NotContains(t, p, "Custom instructions")
	assert.NotContains(t, p, "Contact profile")
}

func TestGenerate_MapsHistoryAndSampling(t *testing.T) {
	p := &mockProvider{}
	p.On("Complete", mock.Anything, mock.MatchedBy(func(r ai.Request) bool {
		if r.Temperature != 0.6 || r.MaxTokens != 200 || r.Schema == nil || r.Model != "gpt-test" {
			return false
		}
		if len(r.Messages) != 4 {
			return false
		}
		return r.Messages[0].Role == "system" &&
			r.Messages[1].Role == "assistant" &&
			r.Messages[2].Role == "user" &&
			r.Messages[3].Role == "user" && r.Messages[3].Content == "Yes, that works."
	})).Return(`{"reply":"Great, see you then.","shouldHangup":true,"intent":{"label":"confirm_appointment","confidence":0.9}}`, nil)

	g, err := NewTurnGenerator(p, "gpt-test", testLogger())
	require.NoError(t, err)

	turn, err := g.Generate(context.Background(), TurnInput{
		History: []calls.LogEntry{
			{Role: calls.RoleAssistant, Content: "Hi, calling to confirm Tuesday."},
			{Role: calls.RoleContact, Content: "Who is this?"},
		},
		Utterance: "Yes, that works.",
	})
	require.NoError(t, err)
	assert.Equal(t, "Great, see you then.", turn.Reply)
	assert.True(t, turn.ShouldHangup)
	require.NotNil(t, turn.Intent)
	assert.Equal(t, "confirm_appointment", turn.Intent.Label)
	p.AssertExpectations(t)
}

func TestGenerate_TransportFailureIsUnavailable(t *testing.T) {
	p := &mockProvider{}
	p.On("Complete", mock.Anything, mock.Anything).Return("", ai.ErrUnavailable)
	g, err := NewTurnGenerator(p, "", testLogger())
	require.NoError(t, err)

	_, err = g.Generate(context.Background(), TurnInput{})
	assert.True(t, errors.Is(err, ErrServiceUnavailable))
}

func TestNewTurnGenerator_RequiresProvider(t *testing.T) {
	_, err := NewTurnGenerator(nil, "m", nil)
	assert.ErrorIs(t, err, ErrServiceUnavailable)
}

func TestParseTurn(t *testing.T) {
	log := testLogger()

	t.Run("Defaults", func(t *testing.T) {
		turn, err := parseTurn(`{}`, log)
		require.NoError(t, err)
		assert.Equal(t, "", turn.Reply)
		assert.False(t, turn.ShouldHangup)
		assert.Nil(t, turn.FollowUp)
		assert.Nil(t, turn.Intent)
	})

	t.Run("ConfidenceDefaultAndClamp", func(t *testing.T) {
		turn, err := parseTurn(`{"reply":"ok","intent":{"label":"reschedule"}}`, log)
		require.NoError(t, err)
		require.NotNil(t, turn.Intent)
		assert.Equal(t, 0.5, turn.Intent.Confidence)

		turn, err = parseTurn(`{"reply":"ok","intent":{"label":"reschedule","confidence":4}}`, log)
		require.NoError(t, err)
		assert.Equal(t, 1.0, turn.Intent.Confidence)

		turn, err = parseTurn(`{"reply":"ok","intent":{"label":"  ","confidence":0.3}}`, log)
		require.NoError(t, err)
		assert.Nil(t, turn.Intent)
	})

	t.Run("FollowUp", func(t *testing.T) {
		turn, err := parseTurn(`{"reply":"ok","followUp":{"nextSteps":"Send the form","schedule":{"time":"2026-03-05T15:00:00Z","notes":"afternoon"}}}`, log)
		require.NoError(t, err)
		require.NotNil(t, turn.FollowUp)
		assert.Equal(t, "Send the form", *turn.FollowUp.NextSteps)
		require.NotNil(t, turn.FollowUp.ScheduleTime)
		assert.True(t, turn.FollowUp.ScheduleTime.Equal(time.Date(2026, 3, 5, 15, 0, 0, 0, time.UTC)))
	})

	t.Run("BadScheduleDropped", func(t *testing.T) {
		turn, err := parseTurn(`{"reply":"ok","followUp":{"schedule":{"time":"next tuesday"}}}`, log)
		require.NoError(t, err)
		assert.Nil(t, turn.FollowUp)
	})

	t.Run("FencedJSON", func(t *testing.T) {
		turn, err := parseTurn("```json\n{\"reply\":\"hello\"}\n```", log)
		require.NoError(t, err)
		assert.Equal(t, "hello", turn.Reply)
	})

	t.Run("SchemaErrors", func(t *testing.T) {
		for _, raw := range []string{"Sure! I can help.", `{"reply":42}`, `{"shouldHangup":"yes"}`, `[]`, ``} {
			_, err := parseTurn(raw, log)
			assert.ErrorIs(t, err, ErrGenerationSchema, "input %q", raw)
		}
	})
}

func TestSummarize(t *testing.T) {
	p := &mockProvider{}
	p.On("Complete", mock.Anything, mock.MatchedBy(func(r ai.Request) bool {
		return r.Temperature == 0.2 && r.MaxTokens == 300 &&
			len(r.Messages) == 2 &&
			strings.Contains(r.Messages[1].Content, "CONTACT: Tuesday works")
	})).Return(`{"summary":"Appointment confirmed.","nextSteps":"Send reminder","followUpBy":"2026-03-04T09:00:00Z"}`, nil)

	s, err := NewSummarizer(p, "", testLogger())
	require.NoError(t, err)
	sum, err := s.Summarize(context.Background(), calls.Call{ID: "call-1"}, []calls.LogEntry{
		{Role: calls.RoleAssistant, Content: "Can you do Tuesday?"},
		{Role: calls.RoleContact, Content: "Tuesday works"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Appointment confirmed.", sum.Text)
	require.NotNil(t, sum.NextSteps)
	assert.Equal(t, "Send reminder", *sum.NextSteps)
	require.NotNil(t, sum.FollowUpBy)
	p.AssertExpectations(t)
}

func TestSummarize_MalformedIsSchemaError(t *testing.T) {
	for _, raw := range []string{`not json`, `["summary"]`, `{"summary": 42}`} {
		p := &mockProvider{}
		p.On("Complete", mock.Anything, mock.Anything).Return(raw, nil)
		s, err := NewSummarizer(p, "", testLogger())
		require.NoError(t, err)

		_, err = s.Summarize(context.Background(), calls.Call{ID: "call-1"}, nil)
		assert.ErrorIs(t, err, ErrGenerationSchema, "input %q", raw)
		assert.NotErrorIs(t, err, ErrServiceUnavailable, "input %q", raw)
	}
}

func TestSummarize_MissingSummaryKeepsDefault(t *testing.T) {
	p := &mockProvider{}
	p.On("Complete", mock.Anything, mock.Anything).Return(`{"nextSteps": "  "}`, nil)
	s, err := NewSummarizer(p, "", testLogger())
	require.NoError(t, err)

	sum, err := s.Summarize(context.Background(), calls.Call{ID: "call-1"}, nil)
	require.NoError(t, err)
	assert.Equal(t, defaultSummaryText, sum.Text)
	assert.Nil(t, sum.NextSteps)
	assert.Nil(t, sum.FollowUpBy)
}

func TestSummarize_Unavailable(t *testing.T) {
	p := &mockProvider{}
	p.On("Complete", mock.Anything, mock.Anything).Return("", errors.New("dial tcp: refused"))
	s, err := NewSummarizer(p, "", testLogger())
	require.NoError(t, err)

	_, err = s.Summarize(context.Background(), calls.Call{}, nil)
	assert.ErrorIs(t, err, ErrServiceUnavailable)
}

func TestTranscript(t *testing.T) {
	got := Transcript([]calls.LogEntry{
		{Role: calls.RoleAssistant, Content: "Hello"},
		{Role: calls.RoleContact, Content: "Hi"},
	})
	assert.Equal(t, "ASSISTANT: Hello\nCONTACT: Hi", got)
}
