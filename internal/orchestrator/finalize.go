package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"phone-agent/internal/calls"
	"phone-agent/internal/events"
	"phone-agent/internal/telephony"
	"phone-agent/pkg/logger"
)

// finalizeSlack bounds lock waits and store writes around the summary call.
const finalizeSlack = 5 * time.Second

// HandleStatus applies a provider status callback. Unknown calls, unmapped
// statuses and backward moves are accepted and ignored. A completed status
// schedules finalization.
func (o *Orchestrator) HandleStatus(ctx context.Context, ev telephony.StatusEvent) error {
	next, ok := calls.MapProviderStatus(ev.CallStatus)
	if !ok {
		return nil
	}
	log := o.logFor(ctx)

	callID, err := o.statusTarget(ctx, ev)
	if err != nil {
		return err
	}
	if callID == "" {
		log.Info("status callback for unknown call", "call_id", ev.CallID, "call_sid", ev.CallSID, "status", ev.CallStatus)
		return nil
	}
	log = logger.WithCall(log, callID, ev.CallSID)

	release, err := o.locker.Acquire(ctx, lockKey(callID))
	if err != nil {
		return fmt.Errorf("lock call: %w", err)
	}
	ch, err := o.applyStatus(ctx, callID, next)
	release()
	if err != nil {
		return err
	}
	log.Info("status callback", "status", next, "previous", ch.Previous, "applied", ch.Applied)

	if next == calls.StatusCompleted && ch.Found {
		o.finalizeAsync(ctx, callID)
	}
	return nil
}

func (o *Orchestrator) statusTarget(ctx context.Context, ev telephony.StatusEvent) (string, error) {
	if ev.CallID != "" {
		_, err := o.store.GetCall(ctx, ev.CallID)
		switch {
		case err == nil:
			return ev.CallID, nil
		case !errors.Is(err, calls.ErrNotFound):
			return "", fmt.Errorf("get call: %w", err)
		}
	}
	if ev.CallSID == "" {
		return "", nil
	}
	call, found, err := o.store.FindCallByProviderID(ctx, ev.CallSID)
	if err != nil {
		return "", fmt.Errorf("find call by sid: %w", err)
	}
	if !found {
		return "", nil
	}
	return call.ID, nil
}

// finalizeAsync runs Finalize detached from the request, which has usually
// been answered by the time the summary is ready.
func (o *Orchestrator) finalizeAsync(ctx context.Context, callID string) {
	bctx, cancel := context.WithTimeout(context.WithoutCancel(ctx),
		o.cfg.TurnTimeout+o.cfg.SummaryTimeout+finalizeSlack)
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer cancel()
		if _, err := o.Finalize(bctx, callID); err != nil {
			logger.WithCall(o.logFor(bctx), callID, "").Error("finalization failed", "err", err)
		}
	}()
}

// Finalize summarizes and closes a call. Only the first caller to claim the
// call does any work; later callers return false with a nil error.
func (o *Orchestrator) Finalize(ctx context.Context, callID string) (bool, error) {
	log := logger.WithCall(o.logFor(ctx), callID, "")

	release, err := o.locker.Acquire(ctx, lockKey(callID))
	if err != nil {
		finalizationsTotal.WithLabelValues("error").Inc()
		return false, fmt.Errorf("lock call: %w", err)
	}
	defer release()

	claimed, err := o.store.ClaimFinalization(ctx, callID, o.now())
	if err != nil {
		finalizationsTotal.WithLabelValues("error").Inc()
		return false, fmt.Errorf("claim finalization: %w", err)
	}
	if !claimed {
		finalizationsTotal.WithLabelValues("duplicate").Inc()
		return false, nil
	}

	call, history, err := o.store.LoadCallWithHistory(ctx, callID)
	if err != nil {
		finalizationsTotal.WithLabelValues("error").Inc()
		return true, fmt.Errorf("load history: %w", err)
	}

	outcome := "completed"
	sctx, cancel := context.WithTimeout(ctx, o.cfg.SummaryTimeout)
	s, err := o.sum.Summarize(sctx, call, history)
	cancel()
	if err != nil {
		outcome = "summary_failed"
		log.Error("summarizer failed", "err", err)
		if _, aerr := o.store.AppendLogEntry(ctx, callID, calls.RoleSystem, "Summary failed: "+err.Error()); aerr != nil {
			log.Error("append failure note failed", "err", aerr)
		}
	} else {
		err := o.store.UpsertSummary(ctx, calls.SummaryUpdate{
			CallID:     callID,
			Mode:       calls.SummaryFinal,
			Text:       s.Text,
			NextSteps:  s.NextSteps,
			FollowUpBy: s.FollowUpBy,
		})
		if err != nil {
			finalizationsTotal.WithLabelValues("error").Inc()
			return true, fmt.Errorf("upsert summary: %w", err)
		}
	}

	ch, err := o.applyStatus(ctx, callID, calls.StatusCompleted)
	if err != nil {
		finalizationsTotal.WithLabelValues("error").Inc()
		return true, err
	}
	finalizationsTotal.WithLabelValues(outcome).Inc()
	log.Info("call finalized", "status", ch.Call.Status, "outcome", outcome)

	o.publishFinalized(ctx, ch.Call, log)
	return true, nil
}

func (o *Orchestrator) publishFinalized(ctx context.Context, call calls.Call, log *slog.Logger) {
	ev := events.CallFinalized{CallID: call.ID, Status: string(call.Status), FinalizedAt: o.now().UTC()}
	if call.FinalizedAt != nil {
		ev.FinalizedAt = *call.FinalizedAt
	}
	if s, ok, err := o.store.GetSummary(ctx, call.ID); err == nil && ok {
		ev.Summary = s.Text
		ev.NextSteps = s.NextSteps
		ev.FollowUpBy = s.FollowUpBy
	}
	if err := o.events.PublishCallFinalized(ctx, ev); err != nil {
		log.Warn("publish call.finalized failed", "err", err)
	}
}
