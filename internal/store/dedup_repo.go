package store

import (
	"time"
)

// DedupRecord is a client message ID that has already been applied to a subject.
type DedupRecord struct {
	MessageID   string     `json:"message_id"`
	SubjectID   string     `json:"subject_id"`
	ReceivedAt  time.Time  `json:"received_at"`
	ProcessedAt *time.Time `json:"processed_at"`
}

// DedupRepo guards answer submission against client retries.
type DedupRepo interface {
	// IsDuplicate reports whether messageID was already recorded.
	IsDuplicate(messageID string) (bool, error)

	// RecordInbound records messageID. Returns false if it was already present.
	RecordInbound(messageID, subjectID string) (bool, error)

	// MarkProcessed sets processed_at for a message.
	MarkProcessed(messageID string) error

	// PruneInbound deletes records received before cutoff and returns how many were removed.
	PruneInbound(cutoff time.Time) (int, error)
}
