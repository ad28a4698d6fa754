package reconciler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/ohjaamo/backend"
	"github.com/yairfalse/ohjaamo/types"
)

func backendSet(records ...backend.Record) map[string]backend.Record {
	set := make(map[string]backend.Record, len(records))
	for _, rec := range records {
		set[rec.BackendID] = rec
	}
	return set
}

func localSet(locals ...Local) map[string]Local {
	set := make(map[string]Local, len(locals))
	for _, l := range locals {
		set[l.BackendID] = l
	}
	return set
}

func TestDiff_Empty(t *testing.T) {
	changes := Diff(nil, nil)
	assert.True(t, changes.Empty())
}

func TestDiff_Additions(t *testing.T) {
	changes := Diff(
		backendSet(
			backend.Record{BackendID: "vpc-2"},
			backend.Record{BackendID: "vpc-1"},
		),
		localSet(Local{ID: "r1", BackendID: "vpc-1", State: types.StateOK}),
	)

	require.Len(t, changes.Additions, 1)
	assert.Equal(t, "vpc-2", changes.Additions[0].BackendID)
	assert.Empty(t, changes.Removals)
	assert.Empty(t, changes.Updates)
}

func TestDiff_RemovalsOnlyTerminal(t *testing.T) {
	changes := Diff(
		backendSet(),
		localSet(
			Local{ID: "r1", BackendID: "vpc-1", State: types.StateOK},
			Local{ID: "r2", BackendID: "vpc-2", State: types.StateCreating},
			Local{ID: "r3", BackendID: "vpc-3", State: types.StateDeletionScheduled},
			Local{ID: "r4", BackendID: "vpc-4", State: types.StateErred},
		),
	)

	// In-flight rows may still have an executor on them.
	require.Len(t, changes.Removals, 2)
	assert.Equal(t, "vpc-1", changes.Removals[0].BackendID)
	assert.Equal(t, "vpc-4", changes.Removals[1].BackendID)
}

func TestDiff_TrackableDrift(t *testing.T) {
	changes := Diff(
		backendSet(backend.Record{
			BackendID:   "vpc-1",
			Name:        "prod",
			Description: "production network",
			Status:      "available",
		}),
		localSet(Local{
			ID:        "r1",
			BackendID: "vpc-1",
			State:     types.StateOK,
			Name:      "prod",
			Status:    "pending",
		}),
	)

	require.Len(t, changes.Updates, 1)
	patch := changes.Updates[0]
	assert.Equal(t, "r1", patch.LocalID)
	assert.Equal(t, map[string]string{
		"description": "production network",
		"status":      "available",
	}, patch.Fields)
}

func TestDiff_NoDriftNoPatch(t *testing.T) {
	changes := Diff(
		backendSet(backend.Record{BackendID: "vpc-1", Name: "prod", Status: "available"}),
		localSet(Local{ID: "r1", BackendID: "vpc-1", State: types.StateOK, Name: "prod", Status: "available"}),
	)
	assert.True(t, changes.Empty())
}

func TestDiff_DeterministicOrder(t *testing.T) {
	set := backendSet(
		backend.Record{BackendID: "c"},
		backend.Record{BackendID: "a"},
		backend.Record{BackendID: "b"},
	)

	for i := 0; i < 10; i++ {
		changes := Diff(set, nil)
		require.Len(t, changes.Additions, 3)
		assert.Equal(t, "a", changes.Additions[0].BackendID)
		assert.Equal(t, "b", changes.Additions[1].BackendID)
		assert.Equal(t, "c", changes.Additions[2].BackendID)
	}
}
