package validate

import (
	"context"
	"log/slog"
	"strings"

	"github.com/BTreeMap/IntakePipe/internal/models"
)

// DefaultYesWords and DefaultNoWords are the built-in boolean synonym sets.
var (
	DefaultYesWords = []string{"yes", "y", "yeah", "yep", "yup", "sure", "correct", "true", "affirmative", "absolutely", "of course", "definitely"}
	DefaultNoWords  = []string{"no", "n", "nope", "nah", "negative", "false", "not yet", "never"}
)

// Validator dispatches answers to the validator for their question's answer type.
type Validator struct {
	semantic Interpreter
	yes      map[string]bool
	no       map[string]bool
}

// Option configures a Validator.
type Option func(*Validator)

// WithInterpreter sets the semantic capability used for free text and ambiguous booleans.
func WithInterpreter(i Interpreter) Option {
	return func(v *Validator) {
		if i != nil {
			v.semantic = i
		}
	}
}

// WithBooleanWords replaces the yes/no synonym sets.
func WithBooleanWords(yes, no []string) Option {
	return func(v *Validator) {
		if len(yes) > 0 {
			v.yes = wordSet(yes)
		}
		if len(no) > 0 {
			v.no = wordSet(no)
		}
	}
}

// New creates a Validator. Without WithInterpreter it uses RuleInterpreter.
func New(opts ...Option) *Validator {
	v := &Validator{
		semantic: RuleInterpreter{},
		yes:      wordSet(DefaultYesWords),
		no:       wordSet(DefaultNoWords),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

func wordSet(words []string) map[string]bool {
	m := make(map[string]bool, len(words))
	for _, w := range words {
		m[strings.ToLower(strings.TrimSpace(w))] = true
	}
	return m
}

// Validate checks raw against q and returns the normalized value or a reason.
func (v *Validator) Validate(ctx context.Context, q models.QuestionSpec, raw string) Result {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Reject("I didn't catch an answer there.")
	}
	if IsExplanationRequest(s) {
		return Explain(ExplanationFor(q))
	}

	switch q.AnswerType {
	case models.AnswerEmail:
		return Email(s)
	case models.AnswerPhone:
		return Phone(s)
	case models.AnswerURL:
		return URL(s)
	case models.AnswerHexColor:
		return HexColor(s)
	case models.AnswerNumericScale:
		lo, hi := q.Bounds()
		return Scale(s, lo, hi)
	case models.AnswerSingleChoice:
		return SingleChoice(s, q.Options)
	case models.AnswerMultiSelect:
		return MultiSelect(s, q.Options)
	case models.AnswerBoolean:
		return v.boolean(ctx, q, s)
	default:
		return v.text(ctx, q, s)
	}
}

func (v *Validator) text(ctx context.Context, q models.QuestionSpec, s string) Result {
	res, err := v.semantic.InterpretText(ctx, q, s)
	if err != nil {
		slog.Warn("Validator.text: interpreter failed, applying local rule", "field", q.FieldName, "error", err)
		res, _ = RuleInterpreter{}.InterpretText(ctx, q, s)
	}
	return res
}

func (v *Validator) boolean(ctx context.Context, q models.QuestionSpec, s string) Result {
	word := strings.TrimRight(strings.ToLower(s), ".!")
	switch {
	case v.yes[word]:
		return Accept(true)
	case v.no[word]:
		return Accept(false)
	}

	verdict, err := v.semantic.InterpretBoolean(ctx, q, s)
	if err != nil {
		slog.Warn("Validator.boolean: interpreter failed", "field", q.FieldName, "error", err)
		verdict = VerdictInvalid
	}
	switch verdict {
	case VerdictYes:
		return Accept(true)
	case VerdictNo:
		return Accept(false)
	default:
		return Reject("Please answer with yes or no.")
	}
}
