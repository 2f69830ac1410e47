package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"phone-agent/internal/calls"
	"phone-agent/internal/telephony"
	"phone-agent/pkg/logger"

	"github.com/go-playground/validator/v10"
	"golang.org/x/time/rate"
)

// OutboundRequest asks for a new outbound call. Exactly one of ContactID and
// PhoneNumber must be set.
type OutboundRequest struct {
	ContactID   string            `json:"contactId"`
	PhoneNumber string            `json:"phoneNumber" validate:"omitempty,e164"`
	Goal        string            `json:"goal" validate:"max=2000"`
	Metadata    map[string]string `json:"metadata"`
}

type DispatcherConfig struct {
	// FromNumber is recorded on the call; the provider adapter owns the real caller id.
	FromNumber string
	// RatePerSec <= 0 disables limiting.
	RatePerSec float64
	Burst      int
}

// Dispatcher places outbound calls. The call record is written before the
// provider is asked to dial and is never rolled back.
type Dispatcher struct {
	store    calls.Store
	provider telephony.VoiceProvider
	urls     telephony.Renderer
	from     string
	limiter  *rate.Limiter
	validate *validator.Validate
	log      *slog.Logger
	now      func() time.Time
}

func NewDispatcher(store calls.Store, provider telephony.VoiceProvider, urls telephony.Renderer, cfg DispatcherConfig, log *slog.Logger) (*Dispatcher, error) {
	if store == nil {
		return nil, errors.New("orchestrator: store is required")
	}
	if provider == nil {
		return nil, errors.New("orchestrator: voice provider is required")
	}
	if strings.TrimSpace(urls.PublicBaseURL) == "" {
		return nil, errors.New("orchestrator: public base url is required")
	}
	if log == nil {
		log = slog.Default()
	}

	limit := rate.Inf
	burst := cfg.Burst
	if cfg.RatePerSec > 0 {
		limit = rate.Limit(cfg.RatePerSec)
		if burst <= 0 {
			burst = 1
		}
	}
	return &Dispatcher{
		store:    store,
		provider: provider,
		urls:     urls,
		from:     cfg.FromNumber,
		limiter:  rate.NewLimiter(limit, burst),
		validate: validator.New(),
		log:      log,
		now:      time.Now,
	}, nil
}

func (d *Dispatcher) WithClock(now func() time.Time) *Dispatcher {
	d.now = now
	return d
}

// Dispatch creates the call, originates it and moves it to IN_PROGRESS.
// On a provider failure the returned call is the FAILED record together with
// an ErrProvider error.
func (d *Dispatcher) Dispatch(ctx context.Context, req OutboundRequest) (calls.Call, error) {
	to, contactID, err := d.target(ctx, req)
	if err != nil {
		if errors.Is(err, ErrInvalidRequest) {
			dispatchTotal.WithLabelValues("invalid").Inc()
		} else {
			dispatchTotal.WithLabelValues("error").Inc()
		}
		return calls.Call{}, err
	}

	if err := d.limiter.Wait(ctx); err != nil {
		dispatchTotal.WithLabelValues("error").Inc()
		return calls.Call{}, fmt.Errorf("dispatch rate limit: %w", err)
	}

	nc := calls.NewCall{
		Direction:  calls.DirectionOutbound,
		ContactID:  contactID,
		FromNumber: d.from,
		ToNumber:   to,
		Metadata:   req.Metadata,
	}
	if g := strings.TrimSpace(req.Goal); g != "" {
		nc.Goal = &g
	}
	call, err := d.store.CreateCall(ctx, nc)
	if err != nil {
		dispatchTotal.WithLabelValues("error").Inc()
		return calls.Call{}, fmt.Errorf("create call: %w", err)
	}
	log := logger.WithCall(d.log, call.ID, "")

	sid, err := d.provider.Originate(ctx, telephony.OriginateRequest{
		To:                to,
		AnswerURL:         d.urls.VoiceURL(call.ID),
		StatusCallbackURL: d.urls.StatusURL(call.ID),
	})
	if err != nil {
		dispatchTotal.WithLabelValues("provider_error").Inc()
		log.Error("origination failed", "provider", d.provider.Name(), "err", err)
		return d.markFailed(ctx, call, err, log), fmt.Errorf("%w: %w", ErrProvider, err)
	}

	assigned, err := d.store.AssignProviderID(ctx, call.ID, sid)
	if err != nil {
		dispatchTotal.WithLabelValues("error").Inc()
		return call, fmt.Errorf("assign call sid: %w", err)
	}
	call = assigned
	ch, err := d.store.UpdateStatus(ctx, calls.StatusUpdate{CallID: call.ID, Status: calls.StatusInProgress, At: d.now()})
	if err != nil {
		dispatchTotal.WithLabelValues("error").Inc()
		return call, fmt.Errorf("update status: %w", err)
	}
	observeTransition(calls.StatusInProgress, ch.Applied)

	dispatchTotal.WithLabelValues("originated").Inc()
	logger.WithCall(d.log, call.ID, sid).Info("outbound call originated", "to", to)
	return ch.Call, nil
}

// target validates the request and returns the number to dial.
func (d *Dispatcher) target(ctx context.Context, req OutboundRequest) (string, *string, error) {
	req.ContactID = strings.TrimSpace(req.ContactID)
	req.PhoneNumber = strings.TrimSpace(req.PhoneNumber)

	switch {
	case req.ContactID == "" && req.PhoneNumber == "":
		return "", nil, fmt.Errorf("%w: contactId or phoneNumber is required", ErrInvalidRequest)
	case req.ContactID != "" && req.PhoneNumber != "":
		return "", nil, fmt.Errorf("%w: provide either contactId or phoneNumber, not both", ErrInvalidRequest)
	}
	if err := d.validate.Struct(req); err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	if req.PhoneNumber != "" {
		return req.PhoneNumber, nil, nil
	}
	c, err := d.store.GetContact(ctx, req.ContactID)
	if errors.Is(err, calls.ErrNotFound) {
		return "", nil, fmt.Errorf("%w: unknown contact %q", ErrInvalidRequest, req.ContactID)
	}
	if err != nil {
		return "", nil, fmt.Errorf("get contact: %w", err)
	}
	if c.PhoneNumber == "" {
		return "", nil, fmt.Errorf("%w: contact %q has no phone number", ErrInvalidRequest, req.ContactID)
	}
	return c.PhoneNumber, &c.ID, nil
}

func (d *Dispatcher) markFailed(ctx context.Context, call calls.Call, cause error, log *slog.Logger) calls.Call {
	if _, err := d.store.AppendLogEntry(ctx, call.ID, calls.RoleSystem, "Origination failed: "+cause.Error()); err != nil {
		log.Error("append failure note failed", "err", err)
	}
	ch, err := d.store.UpdateStatus(ctx, calls.StatusUpdate{CallID: call.ID, Status: calls.StatusFailed, At: d.now()})
	if err != nil {
		log.Error("mark failed", "err", err)
		return call
	}
	observeTransition(calls.StatusFailed, ch.Applied)
	return ch.Call
}
