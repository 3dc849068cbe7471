package flow

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/BTreeMap/IntakePipe/internal/catalog"
	"github.com/BTreeMap/IntakePipe/internal/models"
)

func TestRenderQuestion(t *testing.T) {
	first := RenderQuestion(models.QuestionSpec{Index: 0, Prompt: "What's your name?", AnswerType: models.AnswerFreeText})
	assert.True(t, strings.HasPrefix(first, "Great! Let's start with the basics. What's your name?"))
	assert.Contains(t, first, skipHint)

	choice := RenderQuestion(models.QuestionSpec{Index: 3, Prompt: "Pick a channel.", AnswerType: models.AnswerSingleChoice, Options: []string{"Email", "Text"}})
	assert.False(t, strings.HasPrefix(choice, "Great!"))
	assert.Contains(t, choice, "Choose one: Email, Text")

	multi := RenderQuestion(models.QuestionSpec{Index: 4, Prompt: "Which tools?", AnswerType: models.AnswerMultiSelect, Options: []string{"Slack", "Calendly"}})
	assert.Contains(t, multi, "You can choose one or more: Slack, Calendly")

	scale := RenderQuestion(models.QuestionSpec{Index: 5, Prompt: "Rate it.", AnswerType: models.AnswerNumericScale, ScaleMin: 1, ScaleMax: 10})
	assert.Contains(t, scale, "from 1 to 10")

	noted := RenderQuestion(models.QuestionSpec{Index: 6, Prompt: "EIN?", AnswerType: models.AnswerFreeText, HelpNote: "Found on your IRS letter"})
	assert.True(t, strings.HasSuffix(noted, "(Found on your IRS letter)"))

	optional := RenderQuestion(models.QuestionSpec{Index: 7, Prompt: "Anything else?", AnswerType: models.AnswerLongText, HelpNote: "Optional"})
	assert.True(t, strings.HasSuffix(optional, skipHint))
}

func TestClarificationMessage(t *testing.T) {
	msg := ClarificationMessage("Please enter a whole number between 1 and 5.")
	assert.True(t, strings.HasPrefix(msg, "Hmm, please enter a whole number between 1 and 5."))
	assert.Contains(t, msg, "just say 'skip'")

	assert.True(t, strings.HasPrefix(ClarificationMessage("I didn't catch an answer there."), "Hmm, I didn't"))
}

func TestStageMessage(t *testing.T) {
	next := models.Stage{Name: "Team & Tech", Description: "Who helps you run things."}
	msg := StageMessage(catalog.StageProgress{
		CompletedStage:     models.Stage{Name: "Quick Start"},
		NextStage:          &next,
		StageNumber:        1,
		TotalStages:        4,
		QuestionsCompleted: 9,
		TotalQuestions:     48,
	})
	assert.Contains(t, msg, "Woohoo!")
	assert.Contains(t, msg, "You've completed Quick Start.")
	assert.Contains(t, msg, "Stage 1 of 4 done. 9 of 48 questions completed.")
	assert.Contains(t, msg, "Next up: Team & Tech\nWho helps you run things.")

	final := StageMessage(catalog.StageProgress{
		CompletedStage: models.Stage{Name: "Later"}, StageNumber: 7, TotalStages: 7,
		QuestionsCompleted: 40, TotalQuestions: 41,
	})
	assert.True(t, strings.HasPrefix(final, "Great work!"))
	assert.Contains(t, final, "final stretch")
}

func TestResumeAndCompletionMessages(t *testing.T) {
	assert.Equal(t,
		"Welcome back! You've already answered 12 of 48 questions, so let's pick up right where we left off in Team & Tech.",
		ResumeMessage(12, 48, "Team & Tech"))
	assert.NotContains(t, ResumeMessage(3, 5, ""), " in ")

	assert.Contains(t, CompletionMessage("Sunrise Wellness"), "all about Sunrise Wellness")
	assert.Contains(t, CompletionMessage(""), "all about your practice")
}

func TestLowerFirst(t *testing.T) {
	tests := map[string]string{
		"Please try again":  "please try again",
		"I didn't catch it": "I didn't catch it",
		"I'm not sure":      "I'm not sure",
		"It was long":       "it was long",
		"already lower":     "already lower",
		"":                  "",
	}
	for in, want := range tests {
		assert.Equal(t, want, lowerFirst(in), in)
	}
}
