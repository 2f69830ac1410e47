package audit

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for audit events.
// It is append-only; there are no Update/Delete methods.
type Repository interface {
	Append(ctx context.Context, e Event) error
}

// Service records dashboard actions. Callers treat it as best-effort.
type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var ErrInvalidEvent = errors.New("audit: invalid event")

func (s *Service) Append(ctx context.Context, e Event) error {
	if s == nil || s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if e.Type == "" {
		return ErrInvalidEvent
	}
	if e.Metadata != "" && !json.Valid([]byte(e.Metadata)) {
		return ErrInvalidEvent
	}

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.clock().UTC()
	}
	return s.repo.Append(ctx, e)
}

// Actor identifies who performed an action and from where.
type Actor struct {
	Subject string
	Role    string
	IP      string
}

// LogDispatch records an operator-initiated outbound call.
func (s *Service) LogDispatch(ctx context.Context, who Actor, callID, target string) error {
	meta, _ := json.Marshal(map[string]string{"target": target})
	return s.Append(ctx, Event{
		Type:      EventTypeCallDispatched,
		Actor:     who.Subject,
		ActorRole: who.Role,
		IPAddress: who.IP,
		CallID:    callID,
		Message:   "outbound call dispatched",
		Metadata:  string(meta),
	})
}

// LogControl records a control action against a live call.
func (s *Service) LogControl(ctx context.Context, who Actor, callID, action string, applied bool) error {
	meta, _ := json.Marshal(map[string]any{"action": action, "applied": applied})
	return s.Append(ctx, Event{
		Type:      EventTypeCallControl,
		Actor:     who.Subject,
		ActorRole: who.Role,
		IPAddress: who.IP,
		CallID:    callID,
		Message:   "call control: " + action,
		Metadata:  string(meta),
	})
}

// LogSession records a successful dashboard sign-in.
func (s *Service) LogSession(ctx context.Context, who Actor) error {
	return s.Append(ctx, Event{
		Type:      EventTypeSessionCreated,
		Actor:     who.Subject,
		ActorRole: who.Role,
		IPAddress: who.IP,
		Message:   "dashboard session created",
	})
}
