// Package validate turns raw answers into normalized values for IntakePipe.
//
// Every validator returns a Result rather than an error: rejection is the normal
// branch of a conversation, not a fault.
package validate

// Outcome is the kind of a validation result.
type Outcome int

const (
	// Accepted means Value holds the normalized answer.
	Accepted Outcome = iota
	// Rejected means Reason explains what is wrong with the answer.
	Rejected
	// NeedsExplanation means the subject asked why the question matters; Reason holds the explanation.
	NeedsExplanation
)

func (o Outcome) String() string {
	switch o {
	case Accepted:
		return "accepted"
	case Rejected:
		return "rejected"
	case NeedsExplanation:
		return "needs_explanation"
	default:
		return "unknown"
	}
}

// Result is the outcome of validating one answer.
type Result struct {
	Outcome Outcome
	Value   any
	Reason  string
}

// Accept returns an Accepted result carrying v.
func Accept(v any) Result { return Result{Outcome: Accepted, Value: v} }

// Reject returns a Rejected result with a user-facing reason.
func Reject(reason string) Result { return Result{Outcome: Rejected, Reason: reason} }

// Explain returns a NeedsExplanation result with the follow-up text.
func Explain(followUp string) Result { return Result{Outcome: NeedsExplanation, Reason: followUp} }

// OK reports whether the answer was accepted.
func (r Result) OK() bool { return r.Outcome == Accepted }
