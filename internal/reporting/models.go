package reporting

import "time"

type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// CallsOverview aggregates calls created in a time range.
type CallsOverview struct {
	Range TimeRange `json:"range"`

	TotalCalls  int            `json:"total_calls"`
	ByStatus    map[string]int `json:"by_status"`
	ByDirection map[string]int `json:"by_direction"`

	// ActiveCalls counts PENDING and IN_PROGRESS calls.
	ActiveCalls int `json:"active_calls"`

	CompletedDurationSeconds int `json:"completed_duration_seconds"`
	AverageDurationSeconds   int `json:"average_duration_seconds"`

	Intents map[string]int `json:"intents"`

	// Truncated is set when the range holds more calls than one scan covers.
	Truncated bool `json:"truncated,omitempty"`
}
