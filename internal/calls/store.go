package calls

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound        = errors.New("calls: not found")
	ErrConflict        = errors.New("calls: conflict")
	ErrInvalidArgument = errors.New("calls: invalid argument")
)

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*PostgresStore)(nil)
	_ Store = (*GormStore)(nil)
)

// Store is the persistence contract used by the orchestrator.
//
// Every mutation is atomic per call id. Status changes only move forward
// (see Advance) and a missing record is a silent no-op for UpdateStatus,
// because late or duplicated provider deliveries are expected.
type Store interface {
	CreateCall(ctx context.Context, in NewCall) (Call, error)
	AssignProviderID(ctx context.Context, callID, callSID string) (Call, error)
	UpdateStatus(ctx context.Context, u StatusUpdate) (StatusChange, error)
	ClaimFinalization(ctx context.Context, callID string, at time.Time) (bool, error)

	AppendLogEntry(ctx context.Context, callID string, role Role, content string) (LogEntry, error)
	LoadCallWithHistory(ctx context.Context, callID string) (Call, []LogEntry, error)

	UpsertSummary(ctx context.Context, u SummaryUpdate) error
	UpsertIntent(ctx context.Context, callID, label string, confidence float64) error

	GetCall(ctx context.Context, callID string) (Call, error)
	FindCallByProviderID(ctx context.Context, callSID string) (Call, bool, error)
	GetSummary(ctx context.Context, callID string) (Summary, bool, error)
	GetIntent(ctx context.Context, callID string) (Intent, bool, error)
	ListCalls(ctx context.Context, f ListFilter) ([]CallView, error)

	GetContact(ctx context.Context, contactID string) (Contact, error)
	FindContactByPhoneNumber(ctx context.Context, number string) (Contact, bool, error)
	ListActiveInstructions(ctx context.Context) ([]Instruction, error)
}

// NewCall is the input for CreateCall. Status defaults to PENDING; inbound
// calls are created IN_PROGRESS and get StartedAt stamped.
type NewCall struct {
	Direction  Direction
	Status     Status
	CallSID    *string
	ContactID  *string
	Goal       *string
	FromNumber string
	ToNumber   string
	Metadata   map[string]string
}

func (n NewCall) validate() error {
	if n.Direction != DirectionOutbound && n.Direction != DirectionInbound {
		return ErrInvalidArgument
	}
	if n.Status != "" && n.Status != StatusPending && n.Status != StatusInProgress {
		return ErrInvalidArgument
	}
	if n.CallSID != nil && *n.CallSID == "" {
		return ErrInvalidArgument
	}
	return nil
}

func (n NewCall) status() Status {
	if n.Status == "" {
		return StatusPending
	}
	return n.Status
}

// StatusUpdate targets a call by CallID, or by CallSID when CallID is empty.
type StatusUpdate struct {
	CallID  string
	CallSID string
	Status  Status
	At      time.Time
}

func (u StatusUpdate) validate() error {
	if u.CallID == "" && u.CallSID == "" {
		return ErrInvalidArgument
	}
	if !u.Status.Valid() {
		return ErrInvalidArgument
	}
	return nil
}

// StatusChange reports the outcome of UpdateStatus.
// Found=false means no matching record. Applied=false means the transition
// was not forward and nothing was written.
type StatusChange struct {
	Call     Call
	Previous Status
	Found    bool
	Applied  bool
}

type SummaryMode int

const (
	// SummaryFinal overwrites the text; next steps and follow-up only when set.
	SummaryFinal SummaryMode = iota
	// SummaryFollowUp never touches existing text. It writes PendingSummary
	// if no row exists yet.
	SummaryFollowUp
)

type SummaryUpdate struct {
	CallID     string
	Mode       SummaryMode
	Text       string
	NextSteps  *string
	FollowUpBy *time.Time
}

func (u SummaryUpdate) text() string {
	if u.Mode == SummaryFollowUp {
		return PendingSummary
	}
	return u.Text
}

// ListFilter narrows ListCalls. Zero values mean "no filter".
type ListFilter struct {
	Limit  int
	Status Status
	From   time.Time
	To     time.Time
}

const DefaultListLimit = 50

func (f ListFilter) limit() int {
	switch {
	case f.Limit <= 0:
		return DefaultListLimit
	case f.Limit > 500:
		return 500
	default:
		return f.Limit
	}
}

func clampConfidence(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
