package store

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Status represents the lifecycle of a topic.
type Status string

const (
	StatusPending  Status = "pending"
	StatusWriting  Status = "writing"
	StatusUsed     Status = "used"
	StatusRejected Status = "rejected"
)

// Topic sources.
const (
	SourceTrend  = "trend"
	SourceManual = "manual"
)

var allStatuses = []Status{StatusPending, StatusWriting, StatusUsed, StatusRejected}

// transitions is the closed table of permitted status changes. writing to
// pending exists only for operator recovery of topics stranded by a crash.
var transitions = map[Status][]Status{
	StatusPending: {StatusWriting, StatusRejected},
	StatusWriting: {StatusUsed, StatusPending},
}

var (
	// ErrInvalidTransition reports a status change outside the transition table.
	ErrInvalidTransition = errors.New("invalid topic transition")
	// ErrTopicNotFound reports a missing topic id.
	ErrTopicNotFound = errors.New("topic not found")
	// ErrStatusConflict reports a transition whose expected source status no
	// longer holds (another run or operator moved the topic first).
	ErrStatusConflict = errors.New("topic status changed concurrently")
)

// AllStatuses returns every known topic status in lifecycle order.
func AllStatuses() []Status {
	out := make([]Status, len(allStatuses))
	copy(out, allStatuses)
	return out
}

// ParseStatus converts user input into a Status.
func ParseStatus(value string) (Status, bool) {
	candidate := Status(strings.ToLower(strings.TrimSpace(value)))
	for _, status := range allStatuses {
		if status == candidate {
			return status, true
		}
	}
	return "", false
}

// CanTransition reports whether from -> to is in the transition table.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func checkTransition(from, to Status) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// Topic is a candidate article subject.
type Topic struct {
	ID           int64
	Title        string
	Angle        string
	Keywords     []string
	Score        int
	SearchVolume *int64
	Status       Status
	Source       string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	ClaimedAt    *time.Time
	UsedAt       *time.Time
}

// IsTerminal reports whether the topic can no longer be processed.
func (t Topic) IsTerminal() bool {
	return t.Status == StatusUsed || t.Status == StatusRejected
}

// Query returns the research query for the topic: title followed by keywords.
func (t Topic) Query() string {
	parts := append([]string{strings.TrimSpace(t.Title)}, t.Keywords...)
	return strings.Join(strings.Fields(strings.Join(parts, " ")), " ")
}
