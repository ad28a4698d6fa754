package lifecycle

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/ohjaamo/types"
)

// memStore is an in-memory StateStore with real CAS semantics.
type memStore struct {
	mu     sync.Mutex
	states map[RecordRef]types.State
}

func newMemStore() *memStore {
	return &memStore{states: make(map[RecordRef]types.State)}
}

func (s *memStore) set(ref RecordRef, state types.State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[ref] = state
}

func (s *memStore) CompareAndSwapState(_ context.Context, ref RecordRef, observed, next types.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.states[ref]
	if !ok {
		return &types.NotFoundError{Kind: string(ref.Kind), ID: ref.ID}
	}
	if current != observed {
		return &types.ConcurrencyConflict{Kind: string(ref.Kind), ID: ref.ID, Expected: observed, Actual: current}
	}
	s.states[ref] = next
	return nil
}

func TestMachine_Transition(t *testing.T) {
	st := newMemStore()
	ref := RecordRef{Kind: KindResource, ID: "r1"}
	st.set(ref, types.StateCreationScheduled)

	m := NewMachine(st)
	next, err := m.Transition(context.Background(), ref, BeginCreating, types.StateCreationScheduled)
	require.NoError(t, err)
	assert.Equal(t, types.StateCreating, next)
	assert.Equal(t, types.StateCreating, st.states[ref])
}

func TestMachine_Transition_StaleObservation(t *testing.T) {
	st := newMemStore()
	ref := RecordRef{Kind: KindResource, ID: "r1"}
	st.set(ref, types.StateOK)

	m := NewMachine(st)

	// Both callers read OK; only the first swap wins.
	_, err := m.Transition(context.Background(), ref, ScheduleUpdating, types.StateOK)
	require.NoError(t, err)

	_, err = m.Transition(context.Background(), ref, ScheduleDeleting, types.StateOK)
	require.Error(t, err)
	assert.True(t, types.IsConflict(err))
	assert.Equal(t, types.StateUpdateScheduled, st.states[ref])
}

func TestMachine_Transition_InvalidSkipsStore(t *testing.T) {
	st := newMemStore()
	ref := RecordRef{Kind: KindRequest, ID: "q1"}
	st.set(ref, types.StateOK)

	m := NewMachine(st)
	_, err := m.Transition(context.Background(), ref, BeginCreating, types.StateOK)
	require.Error(t, err)
	assert.Equal(t, types.StateOK, st.states[ref], "invalid transition must not touch the store")
}

func TestMachine_ObserversSeeCommittedTransitions(t *testing.T) {
	st := newMemStore()
	ref := RecordRef{Kind: KindResource, ID: "r1"}
	st.set(ref, types.StateErred)

	m := NewMachine(st)
	var events []Event
	m.Subscribe(ObserverFunc(func(_ context.Context, ev Event) {
		events = append(events, ev)
	}))

	_, err := m.Transition(context.Background(), ref, Recover, types.StateErred)
	require.NoError(t, err)

	// A failed CAS must not notify.
	_, err = m.Transition(context.Background(), ref, Recover, types.StateErred)
	require.Error(t, err)

	require.Len(t, events, 1)
	assert.Equal(t, Recover, events[0].Transition)
	assert.Equal(t, types.StateErred, events[0].From)
	assert.Equal(t, types.StateOK, events[0].To)
	assert.Equal(t, ref, events[0].Ref)
}
