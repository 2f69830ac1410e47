package orchestrator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"phone-agent/internal/agent"
	"phone-agent/internal/calls"
	"phone-agent/internal/telephony"
	"phone-agent/pkg/logger"
)

const (
	apologyReply = "We could not locate your call record. Goodbye."
	goodbyeReply = "Thank you. Goodbye."
	troubleReply = "Sorry, I'm having trouble right now. Goodbye."
)

const (
	outcomeOK         = "ok"
	outcomeHangup     = "hangup"
	outcomeDegraded   = "degraded"
	outcomeReplayed   = "replayed"
	outcomeUnresolved = "unresolved"
	outcomeClosed     = "closed"
	outcomeBusy       = "busy"
)

// replayRecord is what a delivery key remembers. LastEntryID is the newest
// log entry once the turn finished; a speech-keyed hit only replays while it
// is still the newest, so a contact repeating themselves later is a new turn.
type replayRecord struct {
	Directive   telephony.Directive `json:"directive"`
	LastEntryID string              `json:"last_entry_id,omitempty"`
	ByToken     bool                `json:"by_token,omitempty"`
}

// HandleTurn answers one voice webhook delivery. It never fails: every path
// yields a directive the provider can act on.
func (o *Orchestrator) HandleTurn(ctx context.Context, ev telephony.TurnEvent) telephony.Directive {
	start := time.Now()
	d, outcome := o.turn(ctx, ev)
	turnsTotal.WithLabelValues(outcome).Inc()
	turnDurationHist.Observe(time.Since(start).Seconds())
	return d
}

func (o *Orchestrator) turn(ctx context.Context, ev telephony.TurnEvent) (telephony.Directive, string) {
	log := o.logFor(ctx)

	call, err := o.resolve(ctx, ev)
	if err != nil {
		log.Warn("turn unresolved", "call_id", ev.CallID, "call_sid", ev.CallSID, "err", err)
		return telephony.Directive{Say: apologyReply, Hangup: true}, outcomeUnresolved
	}
	log = logger.WithCall(log, call.ID, call.SID())

	release, err := o.locker.Acquire(ctx, lockKey(call.ID))
	if err != nil {
		log.Error("call lock unavailable", "err", err)
		return telephony.Directive{CallID: call.ID, Say: troubleReply, Hangup: true}, outcomeBusy
	}
	defer release()

	if next, ok := calls.MapProviderStatus(ev.CallStatus); ok {
		ch, err := o.applyStatus(ctx, call.ID, next)
		if err != nil {
			log.Error("embedded status update failed", "status", next, "err", err)
		} else if ch.Found {
			call = ch.Call
		}
	}

	key := deliveryKey(call.ID, ev)
	if d, ok := o.replayed(ctx, key, call.ID, log); ok {
		dedupeReplaysTotal.Inc()
		log.Info("turn replayed from dedupe cache")
		return d, outcomeReplayed
	}

	if call.Status.Terminal() {
		// trailing speech after the call ended is kept, but nothing is generated
		d := telephony.Directive{CallID: call.ID, Hangup: true}
		if ev.Speech != "" {
			entry, err := o.store.AppendLogEntry(ctx, call.ID, calls.RoleContact, ev.Speech)
			if err != nil {
				log.Warn("append trailing utterance failed", "err", err)
				return d, outcomeClosed
			}
			o.remember(ctx, key, ev.IdempotencyToken != "", d, entry.ID, log)
		}
		return d, outcomeClosed
	}

	d, last, err := o.converse(ctx, call, ev.Speech, log)
	if err != nil {
		d, last = o.degrade(ctx, call.ID, err, log)
		o.remember(ctx, key, ev.IdempotencyToken != "", d, last, log)
		return d, outcomeDegraded
	}
	o.remember(ctx, key, ev.IdempotencyToken != "", d, last, log)

	if d.Hangup {
		o.finalizeAsync(ctx, call.ID)
		return d, outcomeHangup
	}
	return d, outcomeOK
}

// converse runs steps 2 to 7 of a turn: record the utterance, generate, and
// persist what the generator returned. It returns the directive and the id of
// the newest log entry it wrote.
func (o *Orchestrator) converse(ctx context.Context, call calls.Call, speech string, log *slog.Logger) (telephony.Directive, string, error) {
	var last string
	if speech != "" {
		e, err := o.store.AppendLogEntry(ctx, call.ID, calls.RoleContact, speech)
		if err != nil {
			return telephony.Directive{}, "", fmt.Errorf("append utterance: %w", err)
		}
		last = e.ID
	}

	in, err := o.turnInput(ctx, call.ID, last, speech)
	if err != nil {
		return telephony.Directive{}, "", err
	}

	gctx, cancel := context.WithTimeout(ctx, o.cfg.TurnTimeout)
	t, err := o.gen.Generate(gctx, in)
	cancel()
	if err != nil {
		return telephony.Directive{}, "", err
	}

	say := strings.TrimSpace(t.Reply)
	if t.ShouldHangup && say == "" {
		say = goodbyeReply
	}
	if say != "" {
		e, err := o.store.AppendLogEntry(ctx, call.ID, calls.RoleAssistant, say)
		if err != nil {
			log.Error("append reply failed", "err", err)
		} else {
			last = e.ID
		}
	}

	if t.Intent != nil {
		if err := o.store.UpsertIntent(ctx, call.ID, t.Intent.Label, t.Intent.Confidence); err != nil {
			log.Error("upsert intent failed", "err", err)
		}
	}
	if t.FollowUp.Content() {
		err := o.store.UpsertSummary(ctx, calls.SummaryUpdate{
			CallID:     call.ID,
			Mode:       calls.SummaryFollowUp,
			NextSteps:  t.FollowUp.NextSteps,
			FollowUpBy: t.FollowUp.ScheduleTime,
		})
		if err != nil {
			log.Error("upsert follow-up failed", "err", err)
		}
	}

	return telephony.Directive{CallID: call.ID, Say: say, Hangup: t.ShouldHangup}, last, nil
}

// turnInput loads the generation context. The just-recorded utterance is
// passed separately, so it is cut from the history.
func (o *Orchestrator) turnInput(ctx context.Context, callID, utteranceID, speech string) (agent.TurnInput, error) {
	call, history, err := o.store.LoadCallWithHistory(ctx, callID)
	if err != nil {
		return agent.TurnInput{}, fmt.Errorf("load history: %w", err)
	}
	if utteranceID != "" {
		kept := make([]calls.LogEntry, 0, len(history))
		for _, e := range history {
			if e.ID != utteranceID {
				kept = append(kept, e)
			}
		}
		history = kept
	}

	instructions, err := o.store.ListActiveInstructions(ctx)
	if err != nil {
		return agent.TurnInput{}, fmt.Errorf("load instructions: %w", err)
	}

	in := agent.TurnInput{Call: call, Instructions: instructions, History: history, Utterance: speech}
	if call.ContactID != nil {
		c, err := o.store.GetContact(ctx, *call.ContactID)
		switch {
		case err == nil:
			in.Contact = &c
		case !errors.Is(err, calls.ErrNotFound):
			return agent.TurnInput{}, fmt.Errorf("load contact: %w", err)
		}
	}
	if s, ok, err := o.store.GetSummary(ctx, callID); err != nil {
		return agent.TurnInput{}, fmt.Errorf("load summary: %w", err)
	} else if ok {
		in.Memory = &s
	}
	return in, nil
}

// degrade records why the turn failed, fails the call and says goodbye.
func (o *Orchestrator) degrade(ctx context.Context, callID string, cause error, log *slog.Logger) (telephony.Directive, string) {
	log.Error("turn failed", "err", cause)

	var last string
	if e, err := o.store.AppendLogEntry(ctx, callID, calls.RoleSystem, "Turn failed: "+cause.Error()); err != nil {
		log.Error("append failure note failed", "err", err)
	} else {
		last = e.ID
	}
	if _, err := o.applyStatus(ctx, callID, calls.StatusFailed); err != nil {
		log.Error("mark failed", "err", err)
	}
	return telephony.Directive{CallID: callID, Say: troubleReply, Hangup: true}, last
}

// resolve finds the call a turn belongs to: explicit id first, then provider
// sid, then a new inbound call for an unseen sid.
func (o *Orchestrator) resolve(ctx context.Context, ev telephony.TurnEvent) (calls.Call, error) {
	if ev.CallID != "" {
		call, err := o.store.GetCall(ctx, ev.CallID)
		switch {
		case err == nil:
			return o.bindSID(ctx, call, ev.CallSID), nil
		case !errors.Is(err, calls.ErrNotFound):
			return calls.Call{}, fmt.Errorf("%w: %w", ErrResolution, err)
		}
	}
	if ev.CallSID == "" {
		return calls.Call{}, fmt.Errorf("%w: no call id or call sid", ErrResolution)
	}

	call, found, err := o.store.FindCallByProviderID(ctx, ev.CallSID)
	if err != nil {
		return calls.Call{}, fmt.Errorf("%w: %w", ErrResolution, err)
	}
	if found {
		return call, nil
	}
	if ev.CallID != "" {
		return calls.Call{}, fmt.Errorf("%w: unknown call id %q", ErrResolution, ev.CallID)
	}
	return o.createInbound(ctx, ev)
}

// bindSID records the provider sid on a call that does not have one yet,
// which happens when the first webhook beats the dispatcher's assignment.
func (o *Orchestrator) bindSID(ctx context.Context, call calls.Call, sid string) calls.Call {
	if sid == "" || call.CallSID != nil {
		return call
	}
	updated, err := o.store.AssignProviderID(ctx, call.ID, sid)
	if err != nil {
		o.logFor(ctx).Warn("assign call sid failed", "call_id", call.ID, "call_sid", sid, "err", err)
		return call
	}
	return updated
}

func (o *Orchestrator) createInbound(ctx context.Context, ev telephony.TurnEvent) (calls.Call, error) {
	sid := ev.CallSID
	nc := calls.NewCall{
		Direction:  calls.DirectionInbound,
		Status:     calls.StatusInProgress,
		CallSID:    &sid,
		FromNumber: ev.From,
		ToNumber:   ev.To,
	}
	if ev.From != "" {
		c, ok, err := o.store.FindContactByPhoneNumber(ctx, ev.From)
		if err != nil {
			return calls.Call{}, fmt.Errorf("%w: %w", ErrResolution, err)
		}
		if ok {
			nc.ContactID = &c.ID
		}
	}

	call, err := o.store.CreateCall(ctx, nc)
	if errors.Is(err, calls.ErrConflict) {
		// a concurrent delivery created it first
		existing, found, ferr := o.store.FindCallByProviderID(ctx, sid)
		if ferr == nil && found {
			return existing, nil
		}
	}
	if err != nil {
		return calls.Call{}, fmt.Errorf("%w: create inbound call: %w", ErrResolution, err)
	}
	o.logFor(ctx).Info("inbound call created", "call_id", call.ID, "call_sid", sid, "linked_contact", nc.ContactID != nil)
	return call, nil
}

// deliveryKey identifies one webhook delivery. Connect turns without a token
// carry nothing to dedupe on and return "".
func deliveryKey(callID string, ev telephony.TurnEvent) string {
	if ev.IdempotencyToken != "" {
		return "turn:token:" + ev.IdempotencyToken
	}
	if ev.Speech == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(callID + "|" + ev.Speech))
	return "turn:speech:" + hex.EncodeToString(sum[:])
}

func (o *Orchestrator) replayed(ctx context.Context, key, callID string, log *slog.Logger) (telephony.Directive, bool) {
	if key == "" {
		return telephony.Directive{}, false
	}
	raw, ok, err := o.replay.Get(ctx, key)
	if err != nil {
		log.Warn("dedupe lookup failed", "err", err)
		return telephony.Directive{}, false
	}
	if !ok {
		return telephony.Directive{}, false
	}
	var rec replayRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		log.Warn("dedupe record unreadable", "err", err)
		return telephony.Directive{}, false
	}
	if rec.ByToken {
		return rec.Directive, true
	}

	_, history, err := o.store.LoadCallWithHistory(ctx, callID)
	if err != nil || len(history) == 0 {
		return telephony.Directive{}, false
	}
	if history[len(history)-1].ID != rec.LastEntryID {
		return telephony.Directive{}, false
	}
	return rec.Directive, true
}

func (o *Orchestrator) remember(ctx context.Context, key string, byToken bool, d telephony.Directive, lastEntryID string, log *slog.Logger) {
	if key == "" {
		return
	}
	raw, err := json.Marshal(replayRecord{Directive: d, LastEntryID: lastEntryID, ByToken: byToken})
	if err != nil {
		log.Warn("dedupe record encode failed", "err", err)
		return
	}
	if err := o.replay.Put(ctx, key, raw, o.cfg.DedupeWindow); err != nil {
		log.Warn("dedupe record store failed", "err", err)
	}
}
