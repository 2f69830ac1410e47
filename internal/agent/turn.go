package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"phone-agent/internal/ai"
	"phone-agent/internal/calls"
)

var (
	ErrGenerationSchema   = errors.New("agent: generation did not match schema")
	ErrServiceUnavailable = errors.New("agent: generation service unavailable")
)

const (
	turnTemperature = 0.6
	turnMaxTokens   = 200

	preamble = "You are an autonomous phone agent calling on behalf of the user. " +
		"Speak naturally, keep responses short, and never mention that you are an AI. " +
		"Confirm critical details back to the contact. " +
		"Politely decline requests for sensitive data."
	closingDirective = "Decide if the call should end. If so set shouldHangup=true " +
		"and include followUp when a next step is needed."
)

// TurnInput is everything the model sees for one turn.
type TurnInput struct {
	Call         calls.Call
	Contact      *calls.Contact
	Instructions []calls.Instruction
	// Memory is the call's own summary row, if one exists.
	Memory    *calls.Summary
	History   []calls.LogEntry
	Utterance string
}

type FollowUp struct {
	NextSteps     *string
	ScheduleTime  *time.Time
	ScheduleNotes *string
}

// Content reports whether the follow-up carries anything worth persisting.
func (f *FollowUp) Content() bool {
	return f != nil && (f.NextSteps != nil || f.ScheduleTime != nil)
}

type Intent struct {
	Label      string
	Confidence float64
}

type Turn struct {
	Reply        string
	ShouldHangup bool
	FollowUp     *FollowUp
	Intent       *Intent
}

type Generator interface {
	Generate(ctx context.Context, in TurnInput) (Turn, error)
}

type TurnGenerator struct {
	provider ai.Provider
	model    string
	log      *slog.Logger
}

func NewTurnGenerator(provider ai.Provider, model string, log *slog.Logger) (*TurnGenerator, error) {
	if provider == nil {
		return nil, fmt.Errorf("%w: no model provider configured", ErrServiceUnavailable)
	}
	if log == nil {
		log = slog.Default()
	}
	return &TurnGenerator{provider: provider, model: model, log: log}, nil
}

var turnSchema = &ai.Schema{
	Name: "agent_turn",
	JSON: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"reply":        map[string]any{"type": "string"},
			"shouldHangup": map[string]any{"type": "boolean"},
			"followUp": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"nextSteps": map[string]any{"type": "string"},
					"schedule": map[string]any{
						"type": "object",
						"properties": map[string]any{
							"time":  map[string]any{"type": "string"},
							"notes": map[string]any{"type": "string"},
						},
						"required": []string{"time"},
					},
				},
			},
			"intent": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"label":      map[string]any{"type": "string"},
					"confidence": map[string]any{"type": "number"},
				},
				"required": []string{"label", "confidence"},
			},
		},
		"required": []string{"reply", "shouldHangup"},
	},
}

func (g *TurnGenerator) Generate(ctx context.Context, in TurnInput) (Turn, error) {
	msgs := make([]ai.Message, 0, len(in.History)+2)
	msgs = append(msgs, ai.Message{Role: "system", Content: BuildSystemPrompt(in)})
	for _, e := range in.History {
		role := "user"
		if e.Role == calls.RoleAssistant {
			role = "assistant"
		}
		msgs = append(msgs, ai.Message{Role: role, Content: e.Content})
	}
	if u := strings.TrimSpace(in.Utterance); u != "" {
		msgs = append(msgs, ai.Message{Role: "user", Content: u})
	}

	raw, err := g.provider.Complete(ctx, ai.Request{
		Model:       g.model,
		Messages:    msgs,
		Temperature: turnTemperature,
		MaxTokens:   turnMaxTokens,
		Schema:      turnSchema,
	})
	if err != nil {
		return Turn{}, fmt.Errorf("%w: %w", ErrServiceUnavailable, err)
	}
	return parseTurn(raw, g.log)
}

// BuildSystemPrompt assembles the system message for a turn.
func BuildSystemPrompt(in TurnInput) string {
	pieces := []string{preamble}

	texts := make([]string, 0, len(in.Instructions))
	for _, ins := range in.Instructions {
		if c := strings.TrimSpace(ins.Content); c != "" {
			texts = append(texts, c)
		}
	}
	if len(texts) > 0 {
		pieces = append(pieces, "Custom instructions:\n"+strings.Join(texts, "\n\n"))
	}

	if in.Contact != nil && in.Contact.Instruction != nil && strings.TrimSpace(*in.Contact.Instruction) != "" {
		pieces = append(pieces, "Contact-specific instruction: "+strings.TrimSpace(*in.Contact.Instruction))
	}
	if goal := strings.TrimSpace(in.Call.GoalText()); goal != "" {
		pieces = append(pieces, "Call goal: "+goal)
	}
	if c := in.Contact; c != nil {
		profile := fmt.Sprintf("Contact profile: %s (%s)", c.Name, c.PhoneNumber)
		if c.Notes != nil && *c.Notes != "" {
			profile += " | Notes: " + *c.Notes
		}
		pieces = append(pieces, profile)
	}
	if m := in.Memory; m != nil {
		if !m.IsPending() && strings.TrimSpace(m.Text) != "" {
			pieces = append(pieces, "Recent call memory:\n"+m.Text)
		}
		if m.NextSteps != nil && *m.NextSteps != "" {
			pieces = append(pieces, "Outstanding follow-ups:\n"+*m.NextSteps)
		}
	}

	pieces = append(pieces, closingDirective)
	return strings.Join(pieces, "\n\n")
}

type turnPayload struct {
	Reply        *string `json:"reply"`
	ShouldHangup *bool   `json:"shouldHangup"`
	FollowUp     *struct {
		NextSteps *string `json:"nextSteps"`
		Schedule  *struct {
			Time  string  `json:"time"`
			Notes *string `json:"notes"`
		} `json:"schedule"`
	} `json:"followUp"`
	Intent *struct {
		Label      string   `json:"label"`
		Confidence *float64 `json:"confidence"`
	} `json:"intent"`
}

func parseTurn(raw string, log *slog.Logger) (Turn, error) {
	body, err := jsonObject(raw)
	if err != nil {
		return Turn{}, err
	}
	var p turnPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return Turn{}, fmt.Errorf("%w: %w", ErrGenerationSchema, err)
	}

	var t Turn
	if p.Reply != nil {
		t.Reply = strings.TrimSpace(*p.Reply)
	}
	if p.ShouldHangup != nil {
		t.ShouldHangup = *p.ShouldHangup
	}
	if p.FollowUp != nil {
		f := &FollowUp{}
		if p.FollowUp.NextSteps != nil && strings.TrimSpace(*p.FollowUp.NextSteps) != "" {
			v := strings.TrimSpace(*p.FollowUp.NextSteps)
			f.NextSteps = &v
		}
		if s := p.FollowUp.Schedule; s != nil {
			at, err := time.Parse(time.RFC3339, strings.TrimSpace(s.Time))
			if err != nil {
				log.Warn("dropping unparseable follow-up time", "value", s.Time)
			} else {
				at = at.UTC()
				f.ScheduleTime = &at
				f.ScheduleNotes = s.Notes
			}
		}
		if f.Content() {
			t.FollowUp = f
		}
	}
	if p.Intent != nil {
		if label := strings.TrimSpace(p.Intent.Label); label != "" {
			conf := 0.5
			if p.Intent.Confidence != nil {
				conf = clamp01(*p.Intent.Confidence)
			}
			t.Intent = &Intent{Label: label, Confidence: conf}
		}
	}
	return t, nil
}

// jsonObject strips an optional markdown fence and requires a JSON object.
func jsonObject(raw string) ([]byte, error) {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
		s = strings.TrimSpace(s)
	}
	if !strings.HasPrefix(s, "{") || !json.Valid([]byte(s)) {
		return nil, fmt.Errorf("%w: output is not a JSON object", ErrGenerationSchema)
	}
	return []byte(s), nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
