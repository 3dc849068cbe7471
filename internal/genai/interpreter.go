package genai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/BTreeMap/IntakePipe/internal/models"
	"github.com/BTreeMap/IntakePipe/internal/validate"
)

// ErrUnexpectedReply is returned when the model answers outside the expected format.
var ErrUnexpectedReply = errors.New("unexpected model reply")

const textSystemPrompt = `You are validating answers given during a healthcare practice onboarding conversation.
Be lenient: accept any reasonable answer that addresses the question.
Reject only answers that are irrelevant, gibberish or carry no information.
If the person asks why the information is needed, explain the business reason in one or two warm sentences.

Respond with exactly one line in one of these forms:
VALID
EXPLAIN: <short explanation of why this information is needed>
INVALID: <short, friendly description of what is needed instead>`

const booleanSystemPrompt = `The person was asked a yes/no question during a healthcare practice onboarding conversation.
Decide whether the reply means yes or no.
Respond with ONLY one word: YES, NO or INVALID.`

// Interpreter implements validate.Interpreter on top of a chat model.
type Interpreter struct {
	client *Client
}

var _ validate.Interpreter = (*Interpreter)(nil)

// NewInterpreter creates a semantic interpreter backed by client.
func NewInterpreter(client *Client) *Interpreter {
	return &Interpreter{client: client}
}

// InterpretText asks the model whether raw answers q.
func (i *Interpreter) InterpretText(ctx context.Context, q models.QuestionSpec, raw string) (validate.Result, error) {
	user := fmt.Sprintf("Question: %s\nAnswer: %s", q.Prompt, strings.TrimSpace(raw))
	if q.Why != "" {
		user += "\nWhy we ask: " + q.Why
	}
	reply, err := i.client.complete(ctx, 0, textSystemPrompt, user)
	if err != nil {
		return validate.Result{}, err
	}
	return parseTextVerdict(reply, raw)
}

// InterpretBoolean asks the model whether raw means yes or no.
func (i *Interpreter) InterpretBoolean(ctx context.Context, q models.QuestionSpec, raw string) (validate.BoolVerdict, error) {
	user := fmt.Sprintf("Question: %s\nReply: %s", q.Prompt, strings.TrimSpace(raw))
	reply, err := i.client.complete(ctx, 0, booleanSystemPrompt, user)
	if err != nil {
		return validate.VerdictInvalid, err
	}
	return parseBoolVerdict(reply), nil
}

func parseTextVerdict(reply, raw string) (validate.Result, error) {
	line := strings.TrimSpace(strings.SplitN(strings.TrimSpace(reply), "\n", 2)[0])
	upper := strings.ToUpper(line)
	switch {
	case strings.HasPrefix(upper, "INVALID"):
		reason := strings.TrimSpace(strings.TrimLeft(line[len("INVALID"):], ": "))
		if reason == "" {
			reason = "Could you give me an answer that fits the question?"
		}
		return validate.Reject(reason), nil
	case strings.HasPrefix(upper, "VALID"):
		return validate.Accept(strings.TrimSpace(raw)), nil
	case strings.HasPrefix(upper, "EXPLAIN"):
		followUp := strings.TrimSpace(strings.TrimLeft(line[len("EXPLAIN"):], ": "))
		if followUp == "" {
			return validate.Result{}, fmt.Errorf("%w: empty explanation", ErrUnexpectedReply)
		}
		return validate.Explain(followUp), nil
	default:
		return validate.Result{}, fmt.Errorf("%w: %q", ErrUnexpectedReply, line)
	}
}

func parseBoolVerdict(reply string) validate.BoolVerdict {
	switch strings.Trim(strings.ToUpper(strings.TrimSpace(reply)), ".!\"'") {
	case "YES":
		return validate.VerdictYes
	case "NO":
		return validate.VerdictNo
	default:
		return validate.VerdictInvalid
	}
}
