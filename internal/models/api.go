package models

import "time"

// StartSessionRequest represents the request body for starting or resuming an intake.
type StartSessionRequest struct {
	TenantID    string `json:"tenant_id" validate:"required,max=128"`
	SubjectHint string `json:"subject_hint" validate:"max=256"`
}

// SubmitAnswerRequest represents the request body for one conversational turn.
type SubmitAnswerRequest struct {
	SessionID string `json:"session_id" validate:"required,startswith=sess_"`
	Message   string `json:"message" validate:"required,max=4000"`
	// MessageID is an optional client-generated ID; a retried turn with the same ID is not applied twice.
	MessageID string `json:"message_id,omitempty" validate:"omitempty,max=128"`
}

// GenerateAnswerRequest asks for a sample answer to the session's current question.
type GenerateAnswerRequest struct {
	SessionID string `json:"session_id" validate:"required,startswith=sess_"`
}

// StartSessionResponse is returned by the start endpoint.
type StartSessionResponse struct {
	SessionID      string    `json:"session_id"`
	SubjectID      string    `json:"subject_id"`
	FirstPrompt    string    `json:"first_prompt"`
	Messages       []string  `json:"messages"`
	Cursor         int       `json:"cursor"`
	StageName      string    `json:"stage_name,omitempty"`
	TotalQuestions int       `json:"total_questions"`
	Resumed        bool      `json:"resumed"`
	ResumeHistory  []Message `json:"resume_history,omitempty"`
}

// TurnResponse is returned after an answer is processed.
type TurnResponse struct {
	Messages       []string `json:"messages"`
	Cursor         int      `json:"cursor"`
	StageName      string   `json:"stage_name,omitempty"`
	TotalQuestions int      `json:"total_questions"`
	Completed      bool     `json:"completed"`
	Answers        Answers  `json:"answers"`
}

// StatusResponse reports progress for a session.
type StatusResponse struct {
	SessionID       string     `json:"session_id"`
	SubjectID       string     `json:"subject_id"`
	Cursor          int        `json:"cursor"`
	TotalQuestions  int        `json:"total_questions"`
	ProgressPercent int        `json:"progress_percent"`
	StageName       string     `json:"stage_name,omitempty"`
	Completed       bool       `json:"completed"`
	StartedAt       time.Time  `json:"started_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	ExternalID      string     `json:"external_id,omitempty"`
	Answers         Answers    `json:"answers"`
}

// GenerateAnswerResponse carries a generated sample answer.
type GenerateAnswerResponse struct {
	FieldName string `json:"field_name"`
	Answer    string `json:"answer"`
}

// CRMSyncCompleteRequest is posted by an external automation once it has synced a subject to the CRM.
type CRMSyncCompleteRequest struct {
	SubjectID  string `json:"subject_id" validate:"required"`
	ExternalID string `json:"external_id" validate:"required,max=128"`
}

// HealthResponse reports service readiness.
type HealthResponse struct {
	Status    string `json:"status"`
	Questions int    `json:"questions"`
	Stages    int    `json:"stages"`
	Store     string `json:"store"`
}

// ClientListQuery holds the query parameters of the client listing.
type ClientListQuery struct {
	TenantID string `json:"tenant_id" validate:"required,max=128"`
	Status   string `json:"status" validate:"omitempty,oneof=completed pending"`
	Search   string `json:"search" validate:"max=256"`
	Page     int    `json:"page" validate:"gte=0"`
	PageSize int    `json:"page_size" validate:"gte=0,lte=100"`
}

// ClientSummary is one subject's intake record as listed for staff.
type ClientSummary struct {
	SubjectID       string     `json:"subject_id"`
	TenantID        string     `json:"tenant_id"`
	PracticeName    string     `json:"practice_name"`
	ContactEmail    string     `json:"contact_email,omitempty"`
	Cursor          int        `json:"cursor"`
	TotalQuestions  int        `json:"total_questions"`
	ProgressPercent int        `json:"progress_percent"`
	StageName       string     `json:"stage_name,omitempty"`
	Completed       bool       `json:"completed"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	ExternalID      string     `json:"external_id,omitempty"`
}

// ClientListResponse is one page of client summaries.
type ClientListResponse struct {
	Clients  []ClientSummary `json:"clients"`
	Total    int             `json:"total"`
	Page     int             `json:"page"`
	PageSize int             `json:"page_size"`
}

// ClientDetail is a client summary with the recorded answers and transcript.
type ClientDetail struct {
	ClientSummary
	Answers  Answers   `json:"answers"`
	Messages []Message `json:"messages"`
}

// ProgressPercent is the share of total questions before cursor, capped at 100.
func ProgressPercent(cursor, total int) int {
	if total <= 0 {
		return 100
	}
	return min(max(cursor, 0)*100/total, 100)
}
