package status

import (
	"errors"
	"time"

	"jobsieve/internal/core/domain"
)

// ErrInvalidTransition is returned when a status change is not allowed by
// the transition table.
var ErrInvalidTransition = errors.New("invalid status transition")

// ValidTransitions defines allowed status transitions.
// Key is the current status, value is the list of valid next statuses.
// Statuses absent from the map are terminal and have no outgoing edges.
var ValidTransitions = map[domain.Status][]domain.Status{
	domain.StatusNew: {
		domain.StatusQueued,
		domain.StatusAnalyzing,
		domain.StatusAnalyzed,
		domain.StatusNotSuitable,
		domain.StatusSkipped,
	},
	domain.StatusQueued: {
		domain.StatusAnalyzing,
		domain.StatusAnalyzed,
		domain.StatusNotSuitable,
		domain.StatusSkipped,
	},
	domain.StatusAnalyzing: {
		domain.StatusAnalyzed,
		domain.StatusNotSuitable,
		domain.StatusRejectedByValidator,
		domain.StatusInArchive,
		domain.StatusFailed,
		domain.StatusSkipped,
	},
	domain.StatusAnalyzed: {
		domain.StatusSentToUser,
		domain.StatusApplied,
		domain.StatusNotInterested,
	},
	domain.StatusSkipped: {
		domain.StatusNew,
		domain.StatusNotSuitable,
		domain.StatusInArchive,
	},
	domain.StatusFailed: {
		domain.StatusNew,
		domain.StatusNotSuitable,
		domain.StatusInArchive,
	},
	domain.StatusSentToUser: {
		domain.StatusApplied,
		domain.StatusNotInterested,
	},
}

// CanTransition checks if a transition from one status to another is valid.
func CanTransition(from, to domain.Status) bool {
	targets, ok := ValidTransitions[from]
	if !ok {
		return false
	}
	for _, target := range targets {
		if target == to {
			return true
		}
	}
	return false
}

// Transition represents a status change with metadata.
type Transition struct {
	From      domain.Status
	To        domain.Status
	Reason    string
	Timestamp time.Time
}

// NewTransition creates a new transition record.
func NewTransition(from, to domain.Status, reason string) Transition {
	return Transition{
		From:      from,
		To:        to,
		Reason:    reason,
		Timestamp: time.Now(),
	}
}

// IsValid returns true if this transition is allowed by the state machine.
func (t Transition) IsValid() bool {
	return CanTransition(t.From, t.To)
}
