package ai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// ErrUnavailable wraps every failure to obtain a completion: transport errors,
// non-2xx statuses, malformed envelopes, missing configuration and deadlines.
var ErrUnavailable = errors.New("ai: provider unavailable")

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Schema constrains the completion to a JSON document.
type Schema struct {
	Name string
	JSON map[string]any
}

type Request struct {
	// Model overrides the provider default when set.
	Model       string
	Messages    []Message
	Temperature float64
	MaxTokens   int
	Schema      *Schema
}

// Provider returns the raw assistant content for one non-streaming completion.
type Provider interface {
	Complete(ctx context.Context, req Request) (string, error)
}

func unavailable(provider string, err error) error {
	return fmt.Errorf("%s: %w: %w", provider, ErrUnavailable, err)
}

func unavailableMsg(provider, msg string) error {
	return fmt.Errorf("%s: %w: %s", provider, ErrUnavailable, msg)
}

func statusError(provider string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		msg = fmt.Sprintf("status %d", resp.StatusCode)
	}
	return unavailableMsg(provider, msg)
}
