// Package models defines the core data structures for IntakePipe.
//
// It includes the question catalog types, the per-session conversation state,
// durable checkpoints and the API envelope shared across modules.
package models

import "errors"

// AnswerType selects the validator used for a question.
type AnswerType string

const (
	AnswerFreeText     AnswerType = "free_text"
	AnswerLongText     AnswerType = "long_text"
	AnswerEmail        AnswerType = "email"
	AnswerBoolean      AnswerType = "boolean"
	AnswerSingleChoice AnswerType = "single_choice"
	AnswerMultiSelect  AnswerType = "multi_select"
	AnswerNumericScale AnswerType = "numeric_scale"
	AnswerPhone        AnswerType = "phone"
	AnswerURL          AnswerType = "url"
	AnswerHexColor     AnswerType = "hex_color"
)

// Default bounds for numeric scale questions.
const (
	DefaultScaleMin = 1
	DefaultScaleMax = 5
)

// Error variables for catalog validation.
var (
	ErrInvalidAnswerType = errors.New("invalid answer type")
	ErrMissingOptions    = errors.New("options are required for choice questions")
	ErrInvalidScale      = errors.New("scale minimum must be below maximum")
)

// IsValidAnswerType checks if the given answer type is supported.
func IsValidAnswerType(t AnswerType) bool {
	switch t {
	case AnswerFreeText, AnswerLongText, AnswerEmail, AnswerBoolean, AnswerSingleChoice,
		AnswerMultiSelect, AnswerNumericScale, AnswerPhone, AnswerURL, AnswerHexColor:
		return true
	default:
		return false
	}
}

// HasOptions reports whether answers of this type are picked from a fixed option list.
func (t AnswerType) HasOptions() bool {
	return t == AnswerSingleChoice || t == AnswerMultiSelect
}

// CRMMapping describes where an answer lands in the CRM contact record.
type CRMMapping struct {
	Field    string `json:"field,omitempty" yaml:"field"`
	Role     string `json:"role,omitempty" yaml:"role"`
	DataType string `json:"data_type,omitempty" yaml:"data_type"`
	TagIfYes string `json:"tag_if_yes,omitempty" yaml:"tag_if_yes"`
}

// CRM contact roles. Questions without a role map to custom fields.
const (
	CRMRoleFullName = "full_name"
	CRMRoleEmail    = "email"
	CRMRolePhone    = "phone"
)

// QuestionSpec is one immutable entry of the question catalog.
type QuestionSpec struct {
	Index      int         `json:"index"`
	StageID    string      `json:"stage_id"`
	FieldName  string      `json:"field_name"`
	Prompt     string      `json:"prompt"`
	AnswerType AnswerType  `json:"answer_type"`
	Options    []string    `json:"options,omitempty"`
	HelpNote   string      `json:"help_note,omitempty"`
	Why        string      `json:"why,omitempty"`
	ScaleMin   int         `json:"scale_min,omitempty"`
	ScaleMax   int         `json:"scale_max,omitempty"`
	CRM        *CRMMapping `json:"crm,omitempty"`
}

// Bounds returns the inclusive scale range, applying defaults when unset.
func (q QuestionSpec) Bounds() (int, int) {
	lo, hi := q.ScaleMin, q.ScaleMax
	if lo == 0 && hi == 0 {
		return DefaultScaleMin, DefaultScaleMax
	}
	return lo, hi
}

// Validate checks the per-question invariants that do not depend on the rest of the catalog.
func (q QuestionSpec) Validate() error {
	if !IsValidAnswerType(q.AnswerType) {
		return ErrInvalidAnswerType
	}
	if q.AnswerType.HasOptions() && len(q.Options) == 0 {
		return ErrMissingOptions
	}
	if q.AnswerType == AnswerNumericScale {
		if lo, hi := q.Bounds(); lo >= hi {
			return ErrInvalidScale
		}
	}
	return nil
}

// Stage is a named, ordered group of consecutive questions.
type Stage struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Indices     []int  `json:"indices"`
}

// Last returns the index of the final question in the stage, or -1 for an empty stage.
func (s Stage) Last() int {
	if len(s.Indices) == 0 {
		return -1
	}
	return s.Indices[len(s.Indices)-1]
}

// APIStatus represents the status of an API response.
type APIStatus string

const (
	// APIStatusOK indicates an API request completed successfully.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates an API request failed with an error.
	APIStatusError APIStatus = "error"
)

// APIResponse represents a standard API response with a status and optional data.
type APIResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Result  any    `json:"result,omitempty"`
}

// Success creates a successful API response with optional result data.
func Success(result any) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Result: result}
}

// SuccessWithMessage creates a successful API response with a message and optional result data.
func SuccessWithMessage(message string, result any) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Message: message, Result: result}
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return APIResponse{Status: string(APIStatusError), Message: message}
}
