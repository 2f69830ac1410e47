package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"phone-agent/internal/ai"
	"phone-agent/internal/calls"
)

const (
	summaryTemperature = 0.2
	summaryMaxTokens   = 300
	defaultSummaryText = "No summary generated."

	summarizerPrompt = "You are a meticulous call summarizer. Produce a JSON object with summary, " +
		"nextSteps, and followUpBy (ISO8601 string or null)."
)

// Summary is the authoritative post-call record produced by the Summarizer.
type Summary struct {
	Text       string
	NextSteps  *string
	FollowUpBy *time.Time
}

type SummaryGenerator interface {
	Summarize(ctx context.Context, call calls.Call, history []calls.LogEntry) (Summary, error)
}

type Summarizer struct {
	provider ai.Provider
	model    string
	log      *slog.Logger
}

func NewSummarizer(provider ai.Provider, model string, log *slog.Logger) (*Summarizer, error) {
	if provider == nil {
		return nil, fmt.Errorf("%w: no model provider configured", ErrServiceUnavailable)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Summarizer{provider: provider, model: model, log: log}, nil
}

var summarySchema = &ai.Schema{
	Name: "call_summary",
	JSON: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"summary":    map[string]any{"type": "string"},
			"nextSteps":  map[string]any{"type": "string"},
			"followUpBy": map[string]any{"type": []string{"string", "null"}},
		},
		"required": []string{"summary"},
	},
}

// Transcript renders history as "ROLE: content" lines.
func Transcript(history []calls.LogEntry) string {
	var b strings.Builder
	for i, e := range history {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(string(e.Role))
		b.WriteString(": ")
		b.WriteString(e.Content)
	}
	return b.String()
}

// Summarize asks the model for a summary. A payload that is not a JSON object
// fails with ErrGenerationSchema; a missing summary field keeps the default text.
func (s *Summarizer) Summarize(ctx context.Context, call calls.Call, history []calls.LogEntry) (Summary, error) {
	raw, err := s.provider.Complete(ctx, ai.Request{
		Model: s.model,
		Messages: []ai.Message{
			{Role: "system", Content: summarizerPrompt},
			{Role: "user", Content: "Conversation transcript:\n" + Transcript(history)},
		},
		Temperature: summaryTemperature,
		MaxTokens:   summaryMaxTokens,
		Schema:      summarySchema,
	})
	if err != nil {
		return Summary{}, fmt.Errorf("%w: %w", ErrServiceUnavailable, err)
	}
	return s.parse(call.ID, raw)
}

func (s *Summarizer) parse(callID, raw string) (Summary, error) {
	out := Summary{Text: defaultSummaryText}

	var p struct {
		Summary    *string `json:"summary"`
		NextSteps  *string `json:"nextSteps"`
		FollowUpBy *string `json:"followUpBy"`
	}
	body, err := jsonObject(raw)
	if err == nil {
		if uerr := json.Unmarshal(body, &p); uerr != nil {
			err = fmt.Errorf("%w: %w", ErrGenerationSchema, uerr)
		}
	}
	if err != nil {
		s.log.Warn("summary payload not parseable", "call_id", callID, "err", err)
		return Summary{}, fmt.Errorf("summary: %w", err)
	}

	if p.Summary != nil && strings.TrimSpace(*p.Summary) != "" {
		out.Text = strings.TrimSpace(*p.Summary)
	}
	if p.NextSteps != nil && strings.TrimSpace(*p.NextSteps) != "" {
		v := strings.TrimSpace(*p.NextSteps)
		out.NextSteps = &v
	}
	if p.FollowUpBy != nil && *p.FollowUpBy != "" {
		if at, err := time.Parse(time.RFC3339, *p.FollowUpBy); err == nil {
			at = at.UTC()
			out.FollowUpBy = &at
		} else {
			s.log.Warn("dropping unparseable followUpBy", "call_id", callID, "value", *p.FollowUpBy)
		}
	}
	return out, nil
}
