package domain

import "time"

const (
	StreamOutcomeCompleted = "completed"
	StreamOutcomeFailed    = "failed"
)

// StreamRecord summarizes one bridged response. It never carries message
// content.
type StreamRecord struct {
	RequestID string
	Model     string
	Variant   string
	Outcome   string
	Chunks    int
	Bytes     int64
	StartedAt time.Time
	Duration  time.Duration
	Error     string
}
