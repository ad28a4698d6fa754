package types

// State is the lifecycle state of a Resource or Request. Both record
// kinds share one vocabulary; the transition table lives in lifecycle.
type State string

const (
	StateCreationScheduled State = "CREATION_SCHEDULED"
	StateCreating          State = "CREATING"
	StateUpdateScheduled   State = "UPDATE_SCHEDULED"
	StateUpdating          State = "UPDATING"
	StateDeletionScheduled State = "DELETION_SCHEDULED"
	StateDeleting          State = "DELETING"
	StateOK                State = "OK"
	StateErred             State = "ERRED"
)

// Terminal reports whether the state is stable (OK or ERRED).
func (s State) Terminal() bool {
	return s == StateOK || s == StateErred
}

// Valid reports whether the state belongs to the closed set.
func (s State) Valid() bool {
	switch s {
	case StateCreationScheduled, StateCreating,
		StateUpdateScheduled, StateUpdating,
		StateDeletionScheduled, StateDeleting,
		StateOK, StateErred:
		return true
	}
	return false
}
