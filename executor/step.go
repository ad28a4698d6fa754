package executor

import (
	"encoding/json"
	"fmt"

	"github.com/yairfalse/ohjaamo/lifecycle"
	"github.com/yairfalse/ohjaamo/types"
)

// StepKind classifies the three step shapes an operation is built of.
type StepKind string

const (
	// StepTransition applies a lifecycle transition and nothing else.
	StepTransition StepKind = "transition"
	// StepBackendCall invokes exactly one backend adapter method.
	StepBackendCall StepKind = "backend_call"
	// StepFinalize marks the terminal state of the operation.
	StepFinalize StepKind = "finalize"
)

// CallName names the adapter method a backend-call step invokes.
type CallName string

const (
	CallCreate CallName = "create"
	CallUpdate CallName = "update"
	CallDelete CallName = "delete"
)

// Applies selects which records a transition step moves.
type Applies string

const (
	AppliesResource Applies = "resource"
	AppliesRequest  Applies = "request"
	AppliesBoth     Applies = "both"
)

// Step is one element of an operation plan. Steps are pure data so a
// plan can be persisted on its Request and re-executed after a
// process restart. Backend-call steps must be safe to re-run through
// a brand-new Request; the executor never re-issues a call within the
// same failed one.
type Step struct {
	Kind       StepKind             `json:"kind"`
	Transition lifecycle.Transition `json:"transition,omitempty"`
	Applies    Applies              `json:"applies,omitempty"`
	Call       CallName             `json:"call,omitempty"`
	Terminal   types.State          `json:"terminal,omitempty"`
}

// PlanFor builds the canonical ordered step list for a category.
func PlanFor(category types.Category) ([]Step, error) {
	switch category {
	case types.CategoryCreate:
		return []Step{
			{Kind: StepTransition, Transition: lifecycle.BeginCreating, Applies: AppliesBoth},
			{Kind: StepBackendCall, Call: CallCreate},
			{Kind: StepFinalize, Terminal: types.StateOK},
		}, nil
	case types.CategoryUpdate, types.CategoryConfigSync:
		return []Step{
			{Kind: StepTransition, Transition: lifecycle.ScheduleUpdating, Applies: AppliesResource},
			{Kind: StepTransition, Transition: lifecycle.BeginUpdating, Applies: AppliesBoth},
			{Kind: StepBackendCall, Call: CallUpdate},
			{Kind: StepFinalize, Terminal: types.StateOK},
		}, nil
	case types.CategoryDelete:
		return []Step{
			{Kind: StepTransition, Transition: lifecycle.ScheduleDeleting, Applies: AppliesResource},
			{Kind: StepTransition, Transition: lifecycle.BeginDeleting, Applies: AppliesBoth},
			{Kind: StepBackendCall, Call: CallDelete},
			{Kind: StepFinalize, Terminal: types.StateOK},
		}, nil
	case types.CategoryComponentCreate:
		return []Step{
			{Kind: StepTransition, Transition: lifecycle.BeginCreating, Applies: AppliesRequest},
			{Kind: StepBackendCall, Call: CallCreate},
			{Kind: StepFinalize, Terminal: types.StateOK},
		}, nil
	case types.CategoryComponentUpdate:
		return []Step{
			{Kind: StepTransition, Transition: lifecycle.BeginUpdating, Applies: AppliesRequest},
			{Kind: StepBackendCall, Call: CallUpdate},
			{Kind: StepFinalize, Terminal: types.StateOK},
		}, nil
	case types.CategoryComponentDelete:
		return []Step{
			{Kind: StepTransition, Transition: lifecycle.BeginDeleting, Applies: AppliesRequest},
			{Kind: StepBackendCall, Call: CallDelete},
			{Kind: StepFinalize, Terminal: types.StateOK},
		}, nil
	default:
		return nil, types.Validationf("no plan for category %q", category)
	}
}

// EncodePlan serializes a step list for persistence on a Request.
func EncodePlan(steps []Step) (json.RawMessage, error) {
	data, err := json.Marshal(steps)
	if err != nil {
		return nil, fmt.Errorf("encode plan: %w", err)
	}
	return data, nil
}

// DecodePlan deserializes a persisted step list.
func DecodePlan(data json.RawMessage) ([]Step, error) {
	var steps []Step
	if err := json.Unmarshal(data, &steps); err != nil {
		return nil, fmt.Errorf("decode plan: %w", err)
	}
	return steps, nil
}
