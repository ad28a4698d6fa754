package lifecycle

import (
	"context"
	"time"

	"github.com/yairfalse/ohjaamo/types"
)

// RecordKind discriminates which record table a reference points into.
type RecordKind string

const (
	KindResource RecordKind = "resource"
	KindRequest  RecordKind = "request"
)

// RecordRef identifies one stateful record.
type RecordRef struct {
	Kind RecordKind
	ID   string
}

// StateStore persists state transitions with compare-and-swap
// semantics: the new state is written only if the stored state still
// equals the value the caller last observed, otherwise the store
// returns ConcurrencyConflict and leaves the row untouched.
type StateStore interface {
	CompareAndSwapState(ctx context.Context, ref RecordRef, observed, next types.State) error
}

// Event describes one successfully persisted transition.
type Event struct {
	Ref        RecordRef
	Transition Transition
	From       types.State
	To         types.State
	At         time.Time
}

// Observer receives transition events synchronously after the
// compare-and-swap commits. Observers must not block.
type Observer interface {
	OnTransition(ctx context.Context, ev Event)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(ctx context.Context, ev Event)

func (f ObserverFunc) OnTransition(ctx context.Context, ev Event) {
	f(ctx, ev)
}

// Machine drives lifecycle transitions against a StateStore and fans
// successful transitions out to registered observers.
type Machine struct {
	store     StateStore
	observers []Observer
}

// NewMachine creates a machine bound to the given store.
func NewMachine(store StateStore) *Machine {
	return &Machine{store: store}
}

// Subscribe registers an observer for future transitions.
func (m *Machine) Subscribe(obs Observer) {
	m.observers = append(m.observers, obs)
}

// Transition applies a named transition to the referenced record.
// The caller supplies the state it last read; a lost race surfaces as
// ConcurrencyConflict and is never retried here.
func (m *Machine) Transition(ctx context.Context, ref RecordRef, name Transition, observed types.State) (types.State, error) {
	next, err := Apply(name, observed)
	if err != nil {
		return "", err
	}

	if err := m.store.CompareAndSwapState(ctx, ref, observed, next); err != nil {
		return "", err
	}

	ev := Event{
		Ref:        ref,
		Transition: name,
		From:       observed,
		To:         next,
		At:         time.Now(),
	}
	for _, obs := range m.observers {
		obs.OnTransition(ctx, ev)
	}

	return next, nil
}
