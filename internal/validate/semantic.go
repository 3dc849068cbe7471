package validate

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/BTreeMap/IntakePipe/internal/models"
)

// BoolVerdict is the semantic reading of an ambiguous yes/no answer.
type BoolVerdict int

const (
	VerdictInvalid BoolVerdict = iota
	VerdictYes
	VerdictNo
)

// Interpreter judges free-form answers. Implementations may call external services.
type Interpreter interface {
	// InterpretText returns Accepted(cleaned), NeedsExplanation(followUp) or Rejected(redirect).
	InterpretText(ctx context.Context, q models.QuestionSpec, raw string) (Result, error)
	// InterpretBoolean reads an answer that did not match a yes/no synonym.
	InterpretBoolean(ctx context.Context, q models.QuestionSpec, raw string) (BoolVerdict, error)
}

// Text length bounds applied by the rule interpreter.
const (
	MinTextLength     = 2
	MaxFreeTextLength = 500
	MaxLongTextLength = 2000
)

var explanationPrefixes = []string{
	"why do you",
	"why is this",
	"why does",
	"why should",
	"why are you",
	"why would you",
	"what is this for",
	"what's this for",
	"whats this for",
	"what do you need",
}

// IsExplanationRequest reports whether raw asks why the question is being asked.
func IsExplanationRequest(raw string) bool {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.TrimRight(s, "?!. ")
	if s == "why" || s == "what for" || s == "how come" {
		return true
	}
	for _, p := range explanationPrefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

// ExplanationFor returns the text shown when a subject asks why q matters.
func ExplanationFor(q models.QuestionSpec) string {
	if q.Why != "" {
		return q.Why
	}
	return "It helps us tailor everything we set up for your practice."
}

// RuleInterpreter is the deterministic Interpreter: length bounds and explanation requests.
type RuleInterpreter struct{}

var _ Interpreter = RuleInterpreter{}

// InterpretText applies the local rule.
func (RuleInterpreter) InterpretText(_ context.Context, q models.QuestionSpec, raw string) (Result, error) {
	s := strings.TrimSpace(raw)
	if IsExplanationRequest(s) {
		return Explain(ExplanationFor(q)), nil
	}
	n := utf8.RuneCountInString(s)
	if n < MinTextLength {
		return Reject("Could you share a little more detail?"), nil
	}
	limit := MaxFreeTextLength
	if q.AnswerType == models.AnswerLongText {
		limit = MaxLongTextLength
	}
	if n > limit {
		return Reject(fmt.Sprintf("That's a bit long. Could you keep it under %d characters?", limit)), nil
	}
	return Accept(s), nil
}

// InterpretBoolean cannot read ambiguous answers without a model.
func (RuleInterpreter) InterpretBoolean(context.Context, models.QuestionSpec, string) (BoolVerdict, error) {
	return VerdictInvalid, nil
}

// Bounded wraps a primary Interpreter with a timeout and falls back to a local
// rule when the primary fails or does not answer in time.
type Bounded struct {
	primary    Interpreter
	fallback   Interpreter
	timeout    time.Duration
	onFallback func(op string, err error)
}

var _ Interpreter = (*Bounded)(nil)

// BoundedOption configures a Bounded interpreter.
type BoundedOption func(*Bounded)

// WithFallback replaces the RuleInterpreter fallback.
func WithFallback(f Interpreter) BoundedOption {
	return func(b *Bounded) { b.fallback = f }
}

// WithFallbackHook registers a callback invoked whenever the fallback is used.
func WithFallbackHook(fn func(op string, err error)) BoundedOption {
	return func(b *Bounded) { b.onFallback = fn }
}

// NewBounded creates a time-bounded interpreter. A non-positive timeout defaults to 8s.
func NewBounded(primary Interpreter, timeout time.Duration, opts ...BoundedOption) *Bounded {
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	b := &Bounded{primary: primary, fallback: RuleInterpreter{}, timeout: timeout}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

type textOutcome struct {
	res Result
	err error
}

type boolOutcome struct {
	v   BoolVerdict
	err error
}

// InterpretText calls the primary interpreter within the timeout.
func (b *Bounded) InterpretText(ctx context.Context, q models.QuestionSpec, raw string) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	done := make(chan textOutcome, 1)
	go func() {
		res, err := b.primary.InterpretText(ctx, q, raw)
		done <- textOutcome{res, err}
	}()

	var err error
	select {
	case out := <-done:
		if out.err == nil {
			return out.res, nil
		}
		err = out.err
	case <-ctx.Done():
		err = ctx.Err()
	}
	b.fellBack("text", q, err)
	return b.fallback.InterpretText(context.WithoutCancel(ctx), q, raw)
}

// InterpretBoolean calls the primary interpreter within the timeout.
func (b *Bounded) InterpretBoolean(ctx context.Context, q models.QuestionSpec, raw string) (BoolVerdict, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	done := make(chan boolOutcome, 1)
	go func() {
		v, err := b.primary.InterpretBoolean(ctx, q, raw)
		done <- boolOutcome{v, err}
	}()

	var err error
	select {
	case out := <-done:
		if out.err == nil {
			return out.v, nil
		}
		err = out.err
	case <-ctx.Done():
		err = ctx.Err()
	}
	b.fellBack("boolean", q, err)
	return b.fallback.InterpretBoolean(context.WithoutCancel(ctx), q, raw)
}

func (b *Bounded) fellBack(op string, q models.QuestionSpec, err error) {
	slog.Warn("Bounded.interpret: semantic interpreter unavailable, using local rule", "op", op, "field", q.FieldName, "error", err)
	if b.onFallback != nil {
		b.onFallback(op, err)
	}
}
