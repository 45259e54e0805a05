package domain

import "fmt"

type State string

const (
	StateDetected         State = "DETECTED"
	StateAnalyzed         State = "ANALYZED"
	StateAutoRouted       State = "AUTO_ROUTED"
	StateReviewRequired   State = "REVIEW_REQUIRED"
	StateKBReviewRequired State = "KB_REVIEW_REQUIRED"
	StateHumanDecided     State = "HUMAN_DECIDED"
	StateMoved            State = "MOVED"
	StateArchived         State = "ARCHIVED"
	StateRejected         State = "REJECTED"
	StateQuarantined      State = "QUARANTINED"
	StateTrashPending     State = "TRASH_PENDING"
	StateTrashed          State = "TRASHED"
)

var finalStates = []State{
	StateMoved,
	StateArchived,
	StateRejected,
	StateQuarantined,
	StateTrashPending,
	StateTrashed,
}

var transitions = map[State][]State{
	StateDetected: {StateAnalyzed},
	// QUARANTINED and ARCHIVED short-circuit executables and skipped duplicates.
	StateAnalyzed: {StateAutoRouted, StateReviewRequired, StateKBReviewRequired, StateQuarantined, StateArchived},
	// AUTO_ROUTED may fall back to REVIEW_REQUIRED when delivery fails.
	StateAutoRouted:       append([]State{StateReviewRequired}, finalStates...),
	StateReviewRequired:   {StateHumanDecided, StateArchived, StateRejected, StateQuarantined, StateTrashPending},
	StateKBReviewRequired: {StateHumanDecided, StateArchived, StateRejected, StateQuarantined, StateTrashPending},
	StateHumanDecided:     finalStates,
	StateTrashPending:     {StateTrashed},
}

// IsFinal reports whether no further automatic transition leaves s.
func (s State) IsFinal() bool {
	if s == StateTrashPending {
		return false
	}
	for _, f := range finalStates {
		if f == s {
			return true
		}
	}
	return false
}

// Transition validates a single lifecycle step.
func Transition(from, to State) error {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidState, from, to)
}
