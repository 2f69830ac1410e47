package calls

import "time"

// Call is one telephone conversation, tracked from creation to a terminal status.
//
// CallSID is nil until the provider accepts origination (outbound) or the first
// webhook arrives (inbound). Once assigned it is unique across calls.
type Call struct {
	ID      string  `json:"id" db:"id"`
	CallSID *string `json:"call_sid,omitempty" db:"call_sid"`

	Direction Direction `json:"direction" db:"direction"`
	Status    Status    `json:"status" db:"status"`

	ContactID *string `json:"contact_id,omitempty" db:"contact_id"`
	Goal      *string `json:"goal,omitempty" db:"goal"`

	// FromNumber and ToNumber are E.164 where known, empty otherwise.
	FromNumber string `json:"from_number,omitempty" db:"from_number"`
	ToNumber   string `json:"to_number,omitempty" db:"to_number"`

	// Metadata holds caller-supplied opaque labels. Never nil once loaded.
	Metadata map[string]string `json:"metadata" db:"metadata"`

	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
	StartedAt   *time.Time `json:"started_at,omitempty" db:"started_at"`
	EndedAt     *time.Time `json:"ended_at,omitempty" db:"ended_at"`
	FinalizedAt *time.Time `json:"finalized_at,omitempty" db:"finalized_at"`
}

// SID returns the provider call id or "" when unassigned.
func (c Call) SID() string {
	if c.CallSID == nil {
		return ""
	}
	return *c.CallSID
}

// GoalText returns the goal or "".
func (c Call) GoalText() string {
	if c.Goal == nil {
		return ""
	}
	return *c.Goal
}

// DurationSeconds is the connected time for ended calls, 0 otherwise.
func (c Call) DurationSeconds() int {
	if c.StartedAt == nil || c.EndedAt == nil || c.EndedAt.Before(*c.StartedAt) {
		return 0
	}
	return int(c.EndedAt.Sub(*c.StartedAt).Seconds())
}

type Direction string

const (
	DirectionOutbound Direction = "OUTBOUND"
	DirectionInbound  Direction = "INBOUND"
)

type Role string

const (
	RoleUser      Role = "USER"
	RoleAssistant Role = "ASSISTANT"
	RoleSystem    Role = "SYSTEM"
	// RoleContact is the human on the far end of the call.
	RoleContact Role = "CONTACT"
)

func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem, RoleContact:
		return true
	default:
		return false
	}
}

// LogEntry is one utterance. Entries are append-only and ordered by (CreatedAt, ID).
type LogEntry struct {
	ID        string    `json:"id" db:"id"`
	CallID    string    `json:"call_id" db:"call_id"`
	Role      Role      `json:"role" db:"role"`
	Content   string    `json:"content" db:"content"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// PendingSummary is the placeholder text written when a follow-up is recorded
// mid-call before the authoritative summary exists.
const PendingSummary = "pending"

// Summary is at most one per call.
type Summary struct {
	CallID     string     `json:"call_id" db:"call_id"`
	Text       string     `json:"summary" db:"summary"`
	NextSteps  *string    `json:"next_steps,omitempty" db:"next_steps"`
	FollowUpBy *time.Time `json:"follow_up_by,omitempty" db:"follow_up_by"`
	UpdatedAt  time.Time  `json:"updated_at" db:"updated_at"`
}

// IsPending reports whether only the mid-call placeholder has been written.
func (s Summary) IsPending() bool { return s.Text == PendingSummary }

// Intent is at most one per call; later turns overwrite earlier ones.
type Intent struct {
	CallID     string    `json:"call_id" db:"call_id"`
	Label      string    `json:"label" db:"label"`
	Confidence float64   `json:"confidence" db:"confidence"`
	UpdatedAt  time.Time `json:"updated_at" db:"updated_at"`
}

// Contact is managed outside this service and read-only here.
type Contact struct {
	ID          string  `json:"id" db:"id"`
	Name        string  `json:"name" db:"name"`
	PhoneNumber string  `json:"phone_number" db:"phone_number"`
	Notes       *string `json:"notes,omitempty" db:"notes"`
	Instruction *string `json:"instruction,omitempty" db:"instruction"`
}

// Instruction is a standing behavioral directive applied to every call while Active.
type Instruction struct {
	ID      string `json:"id" db:"id"`
	Title   string `json:"title" db:"title"`
	Content string `json:"content" db:"content"`
	Active  bool   `json:"active" db:"active"`
}

// CallView is a call joined with the records the dashboard shows next to it.
type CallView struct {
	Call
	Contact *Contact `json:"contact,omitempty"`
	Summary *Summary `json:"summary,omitempty"`
	Intent  *Intent  `json:"intent,omitempty"`
}
