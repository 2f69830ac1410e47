package calls

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// MemoryStore is an in-process Store useful for tests and single-node development.
// It is not intended for production use.
type MemoryStore struct {
	mu sync.Mutex

	calls        map[string]Call
	bySID        map[string]string
	logs         map[string][]LogEntry
	summaries    map[string]Summary
	intents      map[string]Intent
	contacts     map[string]Contact
	instructions []Instruction

	clock func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		calls:     map[string]Call{},
		bySID:     map[string]string{},
		logs:      map[string][]LogEntry{},
		summaries: map[string]Summary{},
		intents:   map[string]Intent{},
		contacts:  map[string]Contact{},
		clock:     time.Now,
	}
}

// WithClock overrides the time source.
func (s *MemoryStore) WithClock(clock func() time.Time) *MemoryStore {
	s.clock = clock
	return s
}

// PutContact seeds a contact.
func (s *MemoryStore) PutContact(c Contact) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contacts[c.ID] = c
}

// PutInstruction seeds a standing instruction.
func (s *MemoryStore) PutInstruction(in Instruction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.instructions = append(s.instructions, in)
}

func (s *MemoryStore) now() time.Time { return s.clock().UTC() }

func (s *MemoryStore) CreateCall(ctx context.Context, in NewCall) (Call, error) {
	if err := in.validate(); err != nil {
		return Call{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if in.CallSID != nil {
		if _, taken := s.bySID[*in.CallSID]; taken {
			return Call{}, ErrConflict
		}
	}

	now := s.now()
	c := Call{
		ID:         uuid.NewString(),
		CallSID:    cloneString(in.CallSID),
		Direction:  in.Direction,
		Status:     in.status(),
		ContactID:  cloneString(in.ContactID),
		Goal:       cloneString(in.Goal),
		FromNumber: in.FromNumber,
		ToNumber:   in.ToNumber,
		Metadata:   cloneMetadata(in.Metadata),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if c.Status == StatusInProgress {
		c.StartedAt = &now
	}
	s.calls[c.ID] = c
	if c.CallSID != nil {
		s.bySID[*c.CallSID] = c.ID
	}
	return cloneCall(c), nil
}

func (s *MemoryStore) AssignProviderID(ctx context.Context, callID, callSID string) (Call, error) {
	if callID == "" || callSID == "" {
		return Call{}, ErrInvalidArgument
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.calls[callID]
	if !ok {
		return Call{}, ErrNotFound
	}
	if owner, taken := s.bySID[callSID]; taken && owner != callID {
		return Call{}, ErrConflict
	}
	if c.CallSID != nil {
		delete(s.bySID, *c.CallSID)
	}
	c.CallSID = &callSID
	c.UpdatedAt = s.now()
	s.calls[callID] = c
	s.bySID[callSID] = callID
	return cloneCall(c), nil
}

func (s *MemoryStore) UpdateStatus(ctx context.Context, u StatusUpdate) (StatusChange, error) {
	if err := u.validate(); err != nil {
		return StatusChange{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	id := u.CallID
	if id == "" {
		id = s.bySID[u.CallSID]
	}
	c, ok := s.calls[id]
	if !ok {
		return StatusChange{}, nil
	}

	prev := c.Status
	next, applied := Advance(c.Status, u.Status)
	if !applied {
		return StatusChange{Call: cloneCall(c), Previous: prev, Found: true}, nil
	}

	at := u.At
	if at.IsZero() {
		at = s.now()
	}
	at = at.UTC()
	c.Status = next
	c.UpdatedAt = at
	if next == StatusInProgress && c.StartedAt == nil {
		c.StartedAt = &at
	}
	if next.Terminal() && c.EndedAt == nil {
		c.EndedAt = &at
	}
	s.calls[id] = c
	return StatusChange{Call: cloneCall(c), Previous: prev, Found: true, Applied: true}, nil
}

func (s *MemoryStore) ClaimFinalization(ctx context.Context, callID string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.calls[callID]
	if !ok || c.FinalizedAt != nil {
		return false, nil
	}
	at = at.UTC()
	c.FinalizedAt = &at
	s.calls[callID] = c
	return true, nil
}

func (s *MemoryStore) AppendLogEntry(ctx context.Context, callID string, role Role, content string) (LogEntry, error) {
	if !role.Valid() {
		return LogEntry{}, ErrInvalidArgument
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.calls[callID]; !ok {
		return LogEntry{}, ErrNotFound
	}
	e := LogEntry{
		ID:        ulid.Make().String(),
		CallID:    callID,
		Role:      role,
		Content:   content,
		CreatedAt: s.now(),
	}
	s.logs[callID] = append(s.logs[callID], e)
	return e, nil
}

func (s *MemoryStore) LoadCallWithHistory(ctx context.Context, callID string) (Call, []LogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.calls[callID]
	if !ok {
		return Call{}, nil, ErrNotFound
	}
	history := make([]LogEntry, len(s.logs[callID]))
	copy(history, s.logs[callID])
	sort.SliceStable(history, func(i, j int) bool {
		if !history[i].CreatedAt.Equal(history[j].CreatedAt) {
			return history[i].CreatedAt.Before(history[j].CreatedAt)
		}
		return history[i].ID < history[j].ID
	})
	return cloneCall(c), history, nil
}

func (s *MemoryStore) UpsertSummary(ctx context.Context, u SummaryUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.calls[u.CallID]; !ok {
		return ErrNotFound
	}
	cur, exists := s.summaries[u.CallID]
	if !exists {
		cur = Summary{CallID: u.CallID, Text: u.text()}
	} else if u.Mode == SummaryFinal {
		cur.Text = u.Text
	}
	if u.NextSteps != nil {
		cur.NextSteps = cloneString(u.NextSteps)
	}
	if u.FollowUpBy != nil {
		t := u.FollowUpBy.UTC()
		cur.FollowUpBy = &t
	}
	cur.UpdatedAt = s.now()
	s.summaries[u.CallID] = cur
	return nil
}

func (s *MemoryStore) UpsertIntent(ctx context.Context, callID, label string, confidence float64) error {
	if label == "" {
		return ErrInvalidArgument
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.calls[callID]; !ok {
		return ErrNotFound
	}
	s.intents[callID] = Intent{CallID: callID, Label: label, Confidence: clampConfidence(confidence), UpdatedAt: s.now()}
	return nil
}

func (s *MemoryStore) GetCall(ctx context.Context, callID string) (Call, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.calls[callID]
	if !ok {
		return Call{}, ErrNotFound
	}
	return cloneCall(c), nil
}

func (s *MemoryStore) FindCallByProviderID(ctx context.Context, callSID string) (Call, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.bySID[callSID]
	if !ok {
		return Call{}, false, nil
	}
	return cloneCall(s.calls[id]), true, nil
}

func (s *MemoryStore) GetSummary(ctx context.Context, callID string) (Summary, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sum, ok := s.summaries[callID]
	return sum, ok, nil
}

func (s *MemoryStore) GetIntent(ctx context.Context, callID string) (Intent, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	in, ok := s.intents[callID]
	return in, ok, nil
}

func (s *MemoryStore) ListCalls(ctx context.Context, f ListFilter) ([]CallView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]CallView, 0, len(s.calls))
	for _, c := range s.calls {
		if f.Status != "" && c.Status != f.Status {
			continue
		}
		if !f.From.IsZero() && c.CreatedAt.Before(f.From) {
			continue
		}
		if !f.To.IsZero() && !c.CreatedAt.Before(f.To) {
			continue
		}
		v := CallView{Call: cloneCall(c)}
		if c.ContactID != nil {
			if ct, ok := s.contacts[*c.ContactID]; ok {
				v.Contact = &ct
			}
		}
		if sum, ok := s.summaries[c.ID]; ok {
			v.Summary = &sum
		}
		if in, ok := s.intents[c.ID]; ok {
			v.Intent = &in
		}
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	if n := f.limit(); len(out) > n {
		out = out[:n]
	}
	return out, nil
}

func (s *MemoryStore) GetContact(ctx context.Context, contactID string) (Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contacts[contactID]
	if !ok {
		return Contact{}, ErrNotFound
	}
	return c, nil
}

func (s *MemoryStore) FindContactByPhoneNumber(ctx context.Context, number string) (Contact, bool, error) {
	if number == "" {
		return Contact{}, false, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.contacts {
		if c.PhoneNumber == number {
			return c, true, nil
		}
	}
	return Contact{}, false, nil
}

func (s *MemoryStore) ListActiveInstructions(ctx context.Context) ([]Instruction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Instruction, 0, len(s.instructions))
	for _, in := range s.instructions {
		if in.Active {
			out = append(out, in)
		}
	}
	return out, nil
}

func cloneString(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneMetadata(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneCall(c Call) Call {
	c.Metadata = cloneMetadata(c.Metadata)
	return c
}
