package flow

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/BTreeMap/IntakePipe/internal/catalog"
	"github.com/BTreeMap/IntakePipe/internal/models"
)

const skipHint = "(Not comfortable answering? Just say 'skip' and we'll move on!)"

var stageCelebrations = map[int]string{
	1: "Woohoo! You crushed the basics!",
	2: "Awesome! Your team and tech info is locked in!",
	3: "Amazing! Your brand identity is shining through!",
	4: "Incredible! We've got your complete picture now!",
}

var stageEncouragements = map[int]string{
	1: "You're doing great! Let's keep this momentum going!",
	2: "Love your energy! We're building something special here!",
	3: "This is fantastic! Your vision is really coming together!",
	4: "You're a rockstar! Almost there!",
}

// RenderQuestion formats q for display, with options, scale range, skip hint and note.
func RenderQuestion(q models.QuestionSpec) string {
	var b strings.Builder
	if q.Index == 0 {
		b.WriteString("Great! Let's start with the basics. ")
	}
	b.WriteString(q.Prompt)

	switch q.AnswerType {
	case models.AnswerSingleChoice:
		fmt.Fprintf(&b, "\n\nChoose one: %s", strings.Join(q.Options, ", "))
	case models.AnswerMultiSelect:
		fmt.Fprintf(&b, "\n\nYou can choose one or more: %s", strings.Join(q.Options, ", "))
	case models.AnswerNumericScale:
		lo, hi := q.Bounds()
		fmt.Fprintf(&b, "\n\n(Answer with a number from %d to %d.)", lo, hi)
	}

	b.WriteString("\n\n")
	b.WriteString(skipHint)

	if note := strings.TrimSpace(q.HelpNote); note != "" && !strings.EqualFold(note, "optional") {
		fmt.Fprintf(&b, "\n(%s)", note)
	}
	return b.String()
}

// ClarificationMessage re-prompts after a rejected answer.
func ClarificationMessage(reason string) string {
	return fmt.Sprintf("Hmm, %s\n\nNo worries though! Could you help me out by rephrasing that? Or if you'd prefer to skip this one, just say 'skip'!", lowerFirst(reason))
}

// ExplanationMessage answers "why are you asking?" and repeats the question.
func ExplanationMessage(followUp string, q models.QuestionSpec) string {
	return fmt.Sprintf("Good question! %s\n\n%s", followUp, RenderQuestion(q))
}

// StageMessage celebrates a finished stage and introduces the next one.
func StageMessage(p catalog.StageProgress) string {
	celebration, ok := stageCelebrations[p.StageNumber]
	if !ok {
		celebration = "Great work!"
	}
	encouragement, ok := stageEncouragements[p.StageNumber]
	if !ok {
		encouragement = "Keep it up!"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s You've completed %s.\n", celebration, p.CompletedStage.Name)
	fmt.Fprintf(&b, "Stage %d of %d done. %d of %d questions completed.\n", p.StageNumber, p.TotalStages, p.QuestionsCompleted, p.TotalQuestions)
	b.WriteString(encouragement)
	if p.NextStage != nil {
		fmt.Fprintf(&b, "\n\nNext up: %s", p.NextStage.Name)
		if p.NextStage.Description != "" {
			fmt.Fprintf(&b, "\n%s", p.NextStage.Description)
		}
	} else {
		b.WriteString("\n\nYou're in the final stretch! Just a few more questions and we're done!")
	}
	return b.String()
}

// ResumeMessage welcomes a returning subject back.
func ResumeMessage(answered, total int, stageName string) string {
	msg := fmt.Sprintf("Welcome back! You've already answered %d of %d questions, so let's pick up right where we left off", answered, total)
	if stageName != "" {
		msg += " in " + stageName
	}
	return msg + "."
}

// CompletionMessage closes the intake.
func CompletionMessage(practice string) string {
	if practice == "" {
		practice = "your practice"
	}
	return fmt.Sprintf("Yay! We did it! Thank you so much for taking the time to share all about %s with me. "+
		"Your information is safely saved, and our team will be in touch soon!", practice)
}

// lowerFirst lowercases the first letter unless it starts the pronoun "I".
func lowerFirst(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError || !unicode.IsUpper(r) {
		return s
	}
	if r == 'I' && (len(s) == size || !unicode.IsLetter(rune(s[size]))) {
		return s
	}
	return string(unicode.ToLower(r)) + s[size:]
}
