package store

import (
	"time"
)

// OutboxStatus is where a hand-off sits in its delivery lifecycle:
// queued -> sending -> sent, or back to queued on a retryable failure, or failed.
type OutboxStatus string

const (
	OutboxStatusQueued   OutboxStatus = "queued"
	OutboxStatusSending  OutboxStatus = "sending"
	OutboxStatusSent     OutboxStatus = "sent"
	OutboxStatusFailed   OutboxStatus = "failed"
	OutboxStatusCanceled OutboxStatus = "canceled"
)

// OutboxMessage is one pending completion hand-off (CRM sync, webhook, staff SMS).
type OutboxMessage struct {
	ID        string `json:"id"`
	SubjectID string `json:"subject_id"`
	Kind      string `json:"kind"`
	// PayloadJSON is the serialized models.CompletionEvent.
	PayloadJSON   string       `json:"payload_json"`
	Status        OutboxStatus `json:"status"`
	Attempts      int          `json:"attempts"`
	NextAttemptAt *time.Time   `json:"next_attempt_at"`
	DedupeKey     string       `json:"dedupe_key"`
	LockedAt      *time.Time   `json:"locked_at"`
	LastError     string       `json:"last_error"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

// OutboxRepo persists completion hand-offs so they survive restarts and are
// delivered at least once.
type OutboxRepo interface {
	// EnqueueOutboxMessage queues a hand-off. A non-empty dedupeKey that is already
	// queued, sending, sent or failed returns the existing ID instead.
	EnqueueOutboxMessage(subjectID, kind, payloadJSON, dedupeKey string) (string, error)

	// ClaimDueOutboxMessages moves up to limit queued hand-offs that are due at now
	// into sending, oldest first, and returns them.
	ClaimDueOutboxMessages(now time.Time, limit int) ([]OutboxMessage, error)

	// MarkOutboxMessageSent records a successful delivery.
	MarkOutboxMessageSent(id string) error

	// FailOutboxMessage counts a failed attempt and requeues the hand-off for nextAttemptAt.
	FailOutboxMessage(id string, errMsg string, nextAttemptAt time.Time) error

	// DeadLetterOutboxMessage counts a failed attempt and parks the hand-off as failed.
	DeadLetterOutboxMessage(id string, errMsg string) error

	// RequeueStaleSendingMessages returns hand-offs claimed before staleBefore to the
	// queue; their sender died mid-delivery.
	RequeueStaleSendingMessages(staleBefore time.Time) (int, error)

	// ListOutboxMessages returns every hand-off recorded for a subject, oldest first.
	ListOutboxMessages(subjectID string) ([]OutboxMessage, error)
}
