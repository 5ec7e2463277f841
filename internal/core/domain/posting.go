package domain

import "time"

type Status string

const (
	StatusNew                 Status = "new"
	StatusQueued              Status = "queued"
	StatusAnalyzing           Status = "analyzing"
	StatusAnalyzed            Status = "analyzed"
	StatusNotSuitable         Status = "not_suitable"
	StatusRejectedByValidator Status = "rejected_by_validator"
	StatusInArchive           Status = "in_archive"
	StatusFailed              Status = "failed"
	StatusSkipped             Status = "skipped"
	StatusSentToUser          Status = "sent_to_user"
	StatusApplied             Status = "applied"
	StatusNotInterested       Status = "not_interested"
)

// AllStatuses lists every status the pipeline knows, in lifecycle order.
var AllStatuses = []Status{
	StatusNew,
	StatusQueued,
	StatusAnalyzing,
	StatusAnalyzed,
	StatusNotSuitable,
	StatusRejectedByValidator,
	StatusInArchive,
	StatusFailed,
	StatusSkipped,
	StatusSentToUser,
	StatusApplied,
	StatusNotInterested,
}

// IsTerminal reports whether the pipeline is done with a posting in this
// status. Terminal postings are still readable by external reporting.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusSentToUser, StatusInArchive, StatusRejectedByValidator,
		StatusNotSuitable, StatusApplied, StatusNotInterested:
		return true
	}
	return false
}

// IsRecoverable reports whether the recovery sweep may move a posting in
// this status back to new.
func (s Status) IsRecoverable() bool {
	return s == StatusSkipped || s == StatusFailed
}

// Posting represents a job posting tracked by the pipeline
type Posting struct {
	ID              string
	Name            string
	Description     string
	Status          Status
	PublishedAt     *time.Time
	StatusChangedAt time.Time
	CreatedAt       time.Time
	Version         int64
}
