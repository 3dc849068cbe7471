package genai

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/BTreeMap/IntakePipe/internal/models"
)

// answerTemperature matches the livelier sampling used for test data.
const answerTemperature = 0.7

const answerSystemPrompt = `You generate realistic test answers for a healthcare practice onboarding system.
Practice name: %s
Current stage: %s

The answer should be natural, specific and professional, between 5 and 50 words.
If the question is yes/no, answer with just "Yes" or "No".
If options are listed, pick from the list exactly as written.
If the question asks for a name, email, phone number or address, provide realistic data.
Provide ONLY the answer, nothing else.`

// AnswerGenerator produces plausible answers to catalog questions. It is a
// testing aid; the generated answer is never submitted on its own.
type AnswerGenerator struct {
	client *Client
}

// NewAnswerGenerator creates a generator. A nil client always yields SampleAnswer.
func NewAnswerGenerator(client *Client) *AnswerGenerator {
	return &AnswerGenerator{client: client}
}

// Generate returns an answer for q, falling back to SampleAnswer when no model
// is configured or the model call fails.
func (g *AnswerGenerator) Generate(ctx context.Context, q models.QuestionSpec, practice, stageName string) string {
	if g.client == nil {
		return SampleAnswer(q)
	}
	if practice == "" {
		practice = "Medical Practice"
	}
	user := "Question: " + q.Prompt
	if len(q.Options) > 0 {
		user += "\nOptions: " + strings.Join(q.Options, ", ")
	}
	if q.AnswerType == models.AnswerNumericScale {
		lo, hi := q.Bounds()
		user += fmt.Sprintf("\nAnswer with a whole number from %d to %d.", lo, hi)
	}
	answer, err := g.client.complete(ctx, answerTemperature, fmt.Sprintf(answerSystemPrompt, practice, stageName), user)
	if err != nil || answer == "" {
		slog.Warn("AnswerGenerator.Generate: using sample answer", "field", q.FieldName, "error", err)
		return SampleAnswer(q)
	}
	return answer
}

// SampleAnswer returns a deterministic answer that passes validation for q.
func SampleAnswer(q models.QuestionSpec) string {
	switch q.AnswerType {
	case models.AnswerEmail:
		return "hello@sunrisewellness.com"
	case models.AnswerPhone:
		return "(555) 123-4567"
	case models.AnswerURL:
		return "www.sunrisewellness.com"
	case models.AnswerHexColor:
		return "#1A73E8"
	case models.AnswerNumericScale:
		lo, hi := q.Bounds()
		return strconv.Itoa(lo + (hi-lo)/2)
	case models.AnswerBoolean:
		return "Yes"
	case models.AnswerSingleChoice, models.AnswerMultiSelect:
		if len(q.Options) > 0 {
			return q.Options[0]
		}
		return "Other"
	case models.AnswerLongText:
		return "We focus on whole-person care with a small, friendly team and a calm, welcoming office."
	default:
		return "Sunrise Wellness Center"
	}
}
