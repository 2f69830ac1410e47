package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"phone-agent/internal/calls"
	"phone-agent/internal/guard"
	"phone-agent/internal/telephony"
	"phone-agent/pkg/logger"
)

type Action string

const (
	ActionHangup Action = "hangup"
	ActionMute   Action = "mute"
	ActionUnmute Action = "unmute"
	ActionHold   Action = "hold"
	ActionResume Action = "resume"
)

func ParseAction(s string) (Action, bool) {
	switch a := Action(strings.ToLower(strings.TrimSpace(s))); a {
	case ActionHangup, ActionMute, ActionUnmute, ActionHold, ActionResume:
		return a, true
	default:
		return "", false
	}
}

// ControlResult reports what a manual action did. Applied=false means the
// action was accepted without any provider side effect.
type ControlResult struct {
	CallID  string       `json:"callId"`
	Action  Action       `json:"action"`
	Applied bool         `json:"applied"`
	Status  calls.Status `json:"status"`
}

// Controller applies operator overrides to live calls. A manual hangup closes
// the call as CANCELED and is not summarized.
type Controller struct {
	store    calls.Store
	provider telephony.VoiceProvider
	locker   guard.Locker
	log      *slog.Logger
	now      func() time.Time
}

func NewController(store calls.Store, provider telephony.VoiceProvider, locker guard.Locker, log *slog.Logger) (*Controller, error) {
	if store == nil || provider == nil {
		return nil, errors.New("orchestrator: store and voice provider are required")
	}
	if locker == nil {
		locker = guard.NewMemoryLocker()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Controller{store: store, provider: provider, locker: locker, log: log, now: time.Now}, nil
}

func (c *Controller) WithClock(now func() time.Time) *Controller {
	c.now = now
	return c
}

func (c *Controller) Control(ctx context.Context, callID, action, actor string) (ControlResult, error) {
	a, ok := ParseAction(action)
	if !ok {
		return ControlResult{}, fmt.Errorf("%w: unsupported action %q", ErrInvalidRequest, action)
	}

	call, err := c.store.GetCall(ctx, callID)
	if err != nil {
		return ControlResult{}, fmt.Errorf("get call: %w", err)
	}
	res := ControlResult{CallID: call.ID, Action: a, Status: call.Status}
	if a != ActionHangup {
		// mute, unmute, hold and resume have no provider effect yet
		return res, nil
	}

	log := logger.WithCall(c.log, call.ID, call.SID()).With("actor", actor)
	if call.SID() == "" {
		return res, fmt.Errorf("%w: call sid not available", ErrInvalidRequest)
	}
	if call.Status.Terminal() {
		return res, nil
	}

	release, err := c.locker.Acquire(ctx, lockKey(call.ID))
	if err != nil {
		return res, fmt.Errorf("lock call: %w", err)
	}
	defer release()

	// a turn or status callback may have closed the call while we waited
	call, err = c.store.GetCall(ctx, callID)
	if err != nil {
		return res, fmt.Errorf("get call: %w", err)
	}
	res.Status = call.Status
	if call.Status.Terminal() {
		return res, nil
	}

	if err := c.provider.Hangup(ctx, call.SID()); err != nil {
		log.Error("provider hangup failed", "err", err)
		return res, fmt.Errorf("%w: %w", ErrProvider, err)
	}

	ch, err := c.store.UpdateStatus(ctx, calls.StatusUpdate{CallID: call.ID, Status: calls.StatusCanceled, At: c.now()})
	if err != nil {
		return res, fmt.Errorf("update status: %w", err)
	}
	observeTransition(calls.StatusCanceled, ch.Applied)
	if ch.Found {
		res.Status = ch.Call.Status
	}
	res.Applied = true

	if _, err := c.store.AppendLogEntry(ctx, call.ID, calls.RoleSystem, "Call canceled by operator"); err != nil {
		log.Warn("append cancel note failed", "err", err)
	}
	log.Info("call canceled by operator")
	return res, nil
}
