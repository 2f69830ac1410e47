package calls

import "strings"

type Status string

const (
	StatusPending    Status = "PENDING"
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
	StatusCanceled   Status = "CANCELED"
)

// Rank orders statuses: PENDING < IN_PROGRESS < {COMPLETED, FAILED, CANCELED}.
// Unknown values rank -1.
func (s Status) Rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusInProgress:
		return 1
	case StatusCompleted, StatusFailed, StatusCanceled:
		return 2
	default:
		return -1
	}
}

func (s Status) Valid() bool { return s.Rank() >= 0 }

func (s Status) Terminal() bool { return s.Rank() == 2 }

// Advance decides a transition. Only strictly forward moves are accepted;
// anything else leaves current in place and reports false.
func Advance(current, next Status) (Status, bool) {
	if !next.Valid() || next.Rank() <= current.Rank() {
		return current, false
	}
	return next, true
}

// predecessors lists the statuses from which next is reachable.
func predecessors(next Status) []Status {
	out := make([]Status, 0, 2)
	for _, s := range []Status{StatusPending, StatusInProgress} {
		if s.Rank() < next.Rank() {
			out = append(out, s)
		}
	}
	return out
}

// MapProviderStatus maps a Twilio CallStatus value. Non-actionable values
// (queued, initiated, ringing) report false.
func MapProviderStatus(v string) (Status, bool) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "in-progress":
		return StatusInProgress, true
	case "completed":
		return StatusCompleted, true
	case "failed", "no-answer", "busy":
		return StatusFailed, true
	case "canceled":
		return StatusCanceled, true
	default:
		return "", false
	}
}
