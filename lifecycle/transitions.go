// Package lifecycle implements the resource lifecycle state machine:
// a closed transition table plus compare-and-swap persistence so two
// processes racing on the same record cannot both win.
package lifecycle

import (
	"github.com/yairfalse/ohjaamo/types"
)

// Transition is a named edge in the lifecycle state machine.
type Transition string

const (
	BeginCreating    Transition = "begin_creating"
	BeginUpdating    Transition = "begin_updating"
	BeginDeleting    Transition = "begin_deleting"
	ScheduleUpdating Transition = "schedule_updating"
	ScheduleDeleting Transition = "schedule_deleting"
	SetOK            Transition = "set_ok"
	SetErred         Transition = "set_erred"
	Recover          Transition = "recover"
)

// rule declares the valid sources and the target of one transition.
// A nil source list means the transition is valid from any state.
type rule struct {
	sources []types.State
	target  types.State
}

// table is the single source of truth for valid
// (source, transition, target) triples.
var table = map[Transition]rule{
	BeginCreating: {
		sources: []types.State{types.StateCreationScheduled},
		target:  types.StateCreating,
	},
	BeginUpdating: {
		sources: []types.State{types.StateUpdateScheduled},
		target:  types.StateUpdating,
	},
	BeginDeleting: {
		sources: []types.State{types.StateDeletionScheduled},
		target:  types.StateDeleting,
	},
	ScheduleUpdating: {
		sources: []types.State{types.StateOK, types.StateErred},
		target:  types.StateUpdateScheduled,
	},
	ScheduleDeleting: {
		sources: []types.State{types.StateOK, types.StateErred},
		target:  types.StateDeletionScheduled,
	},
	SetOK: {
		sources: nil,
		target:  types.StateOK,
	},
	SetErred: {
		sources: nil,
		target:  types.StateErred,
	},
	Recover: {
		sources: []types.State{types.StateErred},
		target:  types.StateOK,
	},
}

// Apply resolves the target state for a transition from the given
// current state. It is pure; persistence is the Machine's job.
func Apply(name Transition, current types.State) (types.State, error) {
	r, ok := table[name]
	if !ok {
		return "", &types.InvalidTransitionError{Transition: string(name), From: current}
	}
	if r.sources == nil {
		return r.target, nil
	}
	for _, src := range r.sources {
		if src == current {
			return r.target, nil
		}
	}
	return "", &types.InvalidTransitionError{Transition: string(name), From: current}
}

// Target returns the state a declared transition commits to.
func Target(name Transition) (types.State, bool) {
	r, ok := table[name]
	if !ok {
		return "", false
	}
	return r.target, true
}

// Transitions returns the declared transition names, for diagnostics.
func Transitions() []Transition {
	names := make([]Transition, 0, len(table))
	for name := range table {
		names = append(names, name)
	}
	return names
}
