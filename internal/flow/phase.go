package flow

// Phase is a step of the turn state machine.
type Phase int

const (
	PhaseAwaitingQuestion Phase = iota
	PhaseAwaitingAnswer
	PhaseValidating
	PhaseClarifying
	PhaseAdvancing
	PhaseCompleted
)

func (p Phase) String() string {
	switch p {
	case PhaseAwaitingQuestion:
		return "awaiting_question"
	case PhaseAwaitingAnswer:
		return "awaiting_answer"
	case PhaseValidating:
		return "validating"
	case PhaseClarifying:
		return "clarifying"
	case PhaseAdvancing:
		return "advancing"
	case PhaseCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// Turn outcomes reported to the Observer.
const (
	OutcomeAccepted  = "accepted"
	OutcomeSkipped   = "skipped"
	OutcomeRejected  = "rejected"
	OutcomeExplained = "explained"
	OutcomeCompleted = "completed"
	OutcomeReplayed  = "replayed"
)

// Start kinds reported to the Observer.
const (
	StartFresh     = "fresh"
	StartResumed   = "resumed"
	StartDuplicate = "duplicate"
)
