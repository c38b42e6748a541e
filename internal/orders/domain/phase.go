package domain

// Phase is the client-side state of a status update on one target.
//
//	Idle -> Debounced -> Submitting -> Succeeded | Conflicted | Failed
//	Conflicted -> Submitting (bounded automatic recovery)
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseDebounced
	PhaseSubmitting
	PhaseSucceeded
	PhaseConflicted
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseDebounced:
		return "debounced"
	case PhaseSubmitting:
		return "submitting"
	case PhaseSucceeded:
		return "succeeded"
	case PhaseConflicted:
		return "conflicted"
	case PhaseFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// IsSettled reports whether no further transition happens without a new intent.
func (p Phase) IsSettled() bool {
	return p == PhaseSucceeded || p == PhaseConflicted || p == PhaseFailed
}
