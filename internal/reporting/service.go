package reporting

import (
	"context"
	"errors"

	"phone-agent/internal/calls"
)

var ErrInvalidRequest = errors.New("reporting: invalid request")

// scanLimit bounds one overview scan; it matches the store's list cap.
const scanLimit = 500

// Repository is the read side of calls.Store that reporting needs.
type Repository interface {
	ListCalls(ctx context.Context, f calls.ListFilter) ([]calls.CallView, error)
}

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service { return &Service{repo: repo} }

func (s *Service) CallsOverview(ctx context.Context, r TimeRange) (CallsOverview, error) {
	if r.From.IsZero() || r.To.IsZero() || !r.To.After(r.From) {
		return CallsOverview{}, ErrInvalidRequest
	}
	if s.repo == nil {
		return CallsOverview{}, errors.New("reporting: repository not configured")
	}

	rows, err := s.repo.ListCalls(ctx, calls.ListFilter{Limit: scanLimit, From: r.From, To: r.To})
	if err != nil {
		return CallsOverview{}, err
	}

	out := CallsOverview{
		Range:       r,
		ByStatus:    map[string]int{},
		ByDirection: map[string]int{},
		Intents:     map[string]int{},
		Truncated:   len(rows) >= scanLimit,
	}
	completed := 0
	for _, c := range rows {
		out.TotalCalls++
		out.ByStatus[string(c.Status)]++
		out.ByDirection[string(c.Direction)]++
		if !c.Status.Terminal() {
			out.ActiveCalls++
		}
		if c.Status == calls.StatusCompleted {
			completed++
			out.CompletedDurationSeconds += c.DurationSeconds()
		}
		if c.Intent != nil && c.Intent.Label != "" {
			out.Intents[c.Intent.Label]++
		}
	}
	if completed > 0 {
		out.AverageDurationSeconds = out.CompletedDurationSeconds / completed
	}
	return out, nil
}
