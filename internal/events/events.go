package events

import (
	"context"
	"time"
)

// CallFinalized is emitted once per call, after the summary is persisted.
type CallFinalized struct {
	CallID      string     `json:"call_id"`
	Status      string     `json:"status"`
	Summary     string     `json:"summary"`
	NextSteps   *string    `json:"next_steps,omitempty"`
	FollowUpBy  *time.Time `json:"follow_up_by,omitempty"`
	FinalizedAt time.Time  `json:"finalized_at"`
}

// Publisher delivers domain events to downstream consumers.
type Publisher interface {
	PublishCallFinalized(ctx context.Context, ev CallFinalized) error
	Close() error
}

// Nop drops every event. Used when no broker is configured.
type Nop struct{}

func (Nop) PublishCallFinalized(context.Context, CallFinalized) error { return nil }
func (Nop) Close() error                                              { return nil }
