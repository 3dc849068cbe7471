// Package models defines conversation state and checkpoint structures for IntakePipe.
package models

import "time"

// Role identifies the author of a message in the conversation log.
type Role string

const (
	RoleAssistant Role = "assistant"
	RoleUser      Role = "user"
)

// Message is one entry of the append-only conversation log.
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// ConversationState is the mutable record carried across the turns of one session.
type ConversationState struct {
	SessionID          string     `json:"session_id"`
	SubjectID          string     `json:"subject_id"`
	TenantID           string     `json:"tenant_id"`
	SubjectKey         string     `json:"subject_key"`
	SubjectHint        string     `json:"subject_hint"`
	Cursor             int        `json:"cursor"`
	CurrentStageID     string     `json:"current_stage_id,omitempty"`
	Answers            Answers    `json:"answers"`
	Messages           []Message  `json:"messages"`
	NeedsClarification bool       `json:"needs_clarification"`
	PendingError       string     `json:"pending_error,omitempty"`
	Completed          bool       `json:"completed"`
	StartedAt          time.Time  `json:"started_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
	CompletedAt        *time.Time `json:"completed_at,omitempty"`
	ExternalID         string     `json:"external_id,omitempty"`

	// Revision is the checkpoint revision this state was loaded from or last saved as.
	Revision int64 `json:"revision"`
}

// Clone returns a deep copy so a turn can be applied and discarded on failure.
func (s *ConversationState) Clone() *ConversationState {
	c := *s
	c.Answers = s.Answers.Clone()
	if c.Answers == nil {
		c.Answers = Answers{}
	}
	c.Messages = append([]Message(nil), s.Messages...)
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// Append adds a message to the log.
func (s *ConversationState) Append(role Role, content string, at time.Time) {
	s.Messages = append(s.Messages, Message{Role: role, Content: content, Timestamp: at})
}

// Checkpoint returns the durable snapshot of the state.
func (s *ConversationState) Checkpoint() Checkpoint {
	return Checkpoint{
		SubjectID:      s.SubjectID,
		TenantID:       s.TenantID,
		SubjectKey:     s.SubjectKey,
		SubjectHint:    s.SubjectHint,
		SessionID:      s.SessionID,
		Cursor:         s.Cursor,
		CurrentStageID: s.CurrentStageID,
		Answers:        s.Answers.Clone(),
		Messages:       append([]Message(nil), s.Messages...),
		Completed:      s.Completed,
		CreatedAt:      s.StartedAt,
		UpdatedAt:      s.UpdatedAt,
		CompletedAt:    s.CompletedAt,
		ExternalID:     s.ExternalID,
		Revision:       s.Revision,
	}
}

// Checkpoint is the durable per-subject record used to resume a session.
type Checkpoint struct {
	SubjectID        string     `json:"subject_id"`
	TenantID         string     `json:"tenant_id"`
	SubjectKey       string     `json:"subject_key"`
	SubjectHint      string     `json:"subject_hint"`
	SessionID        string     `json:"session_id"`
	Cursor           int        `json:"cursor"`
	CurrentStageID   string     `json:"current_stage_id,omitempty"`
	Answers          Answers    `json:"answers"`
	Messages         []Message  `json:"messages"`
	Completed        bool       `json:"completed"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
	ExternalID       string     `json:"external_id,omitempty"`
	ExternalSyncedAt *time.Time `json:"external_synced_at,omitempty"`
	ContactEmail     string     `json:"contact_email,omitempty"`

	// Revision increases by one with every saved turn. SaveCheckpoint only
	// accepts cp when the stored revision is cp.Revision-1.
	Revision int64 `json:"revision"`
}

// State rebuilds a conversation state from the checkpoint under a new session ID.
func (c Checkpoint) State(sessionID string) *ConversationState {
	answers := c.Answers.Clone()
	if answers == nil {
		answers = Answers{}
	}
	return &ConversationState{
		SessionID:      sessionID,
		SubjectID:      c.SubjectID,
		TenantID:       c.TenantID,
		SubjectKey:     c.SubjectKey,
		SubjectHint:    c.SubjectHint,
		Cursor:         c.Cursor,
		CurrentStageID: c.CurrentStageID,
		Answers:        answers,
		Messages:       append([]Message(nil), c.Messages...),
		Completed:      c.Completed,
		StartedAt:      c.CreatedAt,
		UpdatedAt:      c.UpdatedAt,
		CompletedAt:    c.CompletedAt,
		ExternalID:     c.ExternalID,
		Revision:       c.Revision,
	}
}

// CompletionEvent is handed to the sync collaborators once a subject completes intake.
type CompletionEvent struct {
	SubjectID   string    `json:"subject_id"`
	TenantID    string    `json:"tenant_id"`
	SubjectHint string    `json:"subject_hint"`
	Answers     Answers   `json:"answers"`
	CompletedAt time.Time `json:"completed_at"`
}
