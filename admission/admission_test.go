package admission

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/ohjaamo/lifecycle"
	"github.com/yairfalse/ohjaamo/store"
	"github.com/yairfalse/ohjaamo/types"
)

func TestIsAdmissible(t *testing.T) {
	openUpdate := types.Request{ID: "q1", Category: types.CategoryUpdate, State: types.StateUpdating}
	openComponent := types.Request{ID: "q2", Category: types.CategoryComponentUpdate, ComponentKey: "eth0", State: types.StateUpdating}

	tests := []struct {
		name         string
		category     types.Category
		componentKey string
		open         []types.Request
		want         bool
	}{
		{"empty scope admits resource-wide", types.CategoryUpdate, "", nil, true},
		{"empty scope admits component", types.CategoryComponentCreate, "eth0", nil, true},
		{"resource-wide blocks resource-wide", types.CategoryDelete, "", []types.Request{openUpdate}, false},
		{"resource-wide blocks component", types.CategoryComponentUpdate, "eth0", []types.Request{openUpdate}, false},
		{"component blocks resource-wide", types.CategoryUpdate, "", []types.Request{openComponent}, false},
		{"same component key blocks", types.CategoryComponentDelete, "eth0", []types.Request{openComponent}, false},
		{"different component key admits", types.CategoryComponentCreate, "eth1", []types.Request{openComponent}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := IsAdmissible(tt.category, tt.componentKey, tt.open)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestInitialState(t *testing.T) {
	tests := []struct {
		category types.Category
		want     types.State
	}{
		{types.CategoryCreate, types.StateCreationScheduled},
		{types.CategoryComponentCreate, types.StateCreationScheduled},
		{types.CategoryUpdate, types.StateUpdateScheduled},
		{types.CategoryConfigSync, types.StateUpdateScheduled},
		{types.CategoryComponentUpdate, types.StateUpdateScheduled},
		{types.CategoryDelete, types.StateDeletionScheduled},
		{types.CategoryComponentDelete, types.StateDeletionScheduled},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, InitialState(tt.category), string(tt.category))
	}
}

func newTestCoordinator(t *testing.T) (*Coordinator, *store.Store) {
	t.Helper()
	st, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return NewCoordinator(st), st
}

func seedResource(t *testing.T, st *store.Store, id string, state types.State) {
	t.Helper()
	err := st.CreateResource(context.Background(), types.Resource{
		ID:    id,
		Type:  types.TypeNetwork,
		Scope: types.ScopeRef{Kind: types.ScopeTenant, ID: "acme"},
		State: state,
	})
	require.NoError(t, err)
}

func TestTryAdmit_CreatesRequest(t *testing.T) {
	ctx := context.Background()
	c, st := newTestCoordinator(t)
	seedResource(t, st, "r1", types.StateOK)

	req, err := c.TryAdmit(ctx, "r1", "", types.CategoryUpdate, map[string]string{"name": "renamed"})
	require.NoError(t, err)
	assert.NotEmpty(t, req.ID)
	assert.Equal(t, types.StateUpdateScheduled, req.State)
	assert.Equal(t, "renamed", req.Args["name"])
	assert.False(t, req.CreatedAt.IsZero())
}

func TestTryAdmit_SecondRequestLocked(t *testing.T) {
	ctx := context.Background()
	c, st := newTestCoordinator(t)
	seedResource(t, st, "r1", types.StateOK)

	first, err := c.TryAdmit(ctx, "r1", "", types.CategoryUpdate, nil)
	require.NoError(t, err)

	_, err = c.TryAdmit(ctx, "r1", "", types.CategoryDelete, nil)
	require.Error(t, err)
	assert.True(t, types.IsLocked(err))

	var locked *types.LockedError
	require.ErrorAs(t, err, &locked)
	assert.Equal(t, first.ID, locked.HolderID)

	// Refusal left no request behind.
	history, err := st.RequestsForResource(ctx, "r1")
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

type fakeRejectionRecorder struct {
	categories []string
}

func (f *fakeRejectionRecorder) RecordAdmissionRejection(_ context.Context, category string) {
	f.categories = append(f.categories, category)
}

func TestTryAdmit_RejectionRecorded(t *testing.T) {
	ctx := context.Background()
	c, st := newTestCoordinator(t)
	seedResource(t, st, "r1", types.StateOK)
	rec := &fakeRejectionRecorder{}
	c.SetMetrics(rec)

	_, err := c.TryAdmit(ctx, "r1", "", types.CategoryUpdate, nil)
	require.NoError(t, err)
	assert.Empty(t, rec.categories)

	_, err = c.TryAdmit(ctx, "r1", "", types.CategoryDelete, nil)
	require.Error(t, err)
	assert.Equal(t, []string{string(types.CategoryDelete)}, rec.categories)
}

func TestTryAdmit_CrossResourceIndependent(t *testing.T) {
	ctx := context.Background()
	c, st := newTestCoordinator(t)
	seedResource(t, st, "r1", types.StateOK)
	seedResource(t, st, "r2", types.StateOK)

	_, err := c.TryAdmit(ctx, "r1", "", types.CategoryUpdate, nil)
	require.NoError(t, err)

	_, err = c.TryAdmit(ctx, "r2", "", types.CategoryUpdate, nil)
	require.NoError(t, err)
}

func TestTryAdmit_ComponentKeysShareResource(t *testing.T) {
	ctx := context.Background()
	c, st := newTestCoordinator(t)
	seedResource(t, st, "r1", types.StateOK)

	_, err := c.TryAdmit(ctx, "r1", "eth0", types.CategoryComponentUpdate, nil)
	require.NoError(t, err)

	// Different key runs concurrently.
	_, err = c.TryAdmit(ctx, "r1", "eth1", types.CategoryComponentCreate, nil)
	require.NoError(t, err)

	// Same key is held.
	_, err = c.TryAdmit(ctx, "r1", "eth0", types.CategoryComponentDelete, nil)
	assert.True(t, types.IsLocked(err))

	// Resource-wide conflicts with every open component request.
	_, err = c.TryAdmit(ctx, "r1", "", types.CategoryUpdate, nil)
	assert.True(t, types.IsLocked(err))
}

func TestTryAdmit_Validation(t *testing.T) {
	ctx := context.Background()
	c, st := newTestCoordinator(t)
	seedResource(t, st, "r1", types.StateOK)

	tests := []struct {
		name         string
		resourceID   string
		componentKey string
		category     types.Category
	}{
		{"empty resource id", "", "", types.CategoryUpdate},
		{"unknown category", "r1", "", types.Category("reticulate")},
		{"component category without key", "r1", "", types.CategoryComponentUpdate},
		{"resource category with key", "r1", "eth0", types.CategoryUpdate},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.TryAdmit(ctx, tt.resourceID, tt.componentKey, tt.category, nil)
			require.Error(t, err)
			var verr *types.ValidationError
			assert.ErrorAs(t, err, &verr)
		})
	}
}

func TestTryAdmit_UnknownResource(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCoordinator(t)

	_, err := c.TryAdmit(ctx, "ghost", "", types.CategoryUpdate, nil)
	assert.True(t, types.IsNotFound(err))
}

func TestTryAdmit_TerminalHistoryDoesNotBlock(t *testing.T) {
	ctx := context.Background()
	c, st := newTestCoordinator(t)
	seedResource(t, st, "r1", types.StateOK)

	first, err := c.TryAdmit(ctx, "r1", "", types.CategoryUpdate, nil)
	require.NoError(t, err)

	// Finish the first request, the lock must release.
	ref := lifecycle.RecordRef{Kind: lifecycle.KindRequest, ID: first.ID}
	require.NoError(t, st.CompareAndSwapState(ctx, ref, types.StateUpdateScheduled, types.StateOK))

	_, err = c.TryAdmit(ctx, "r1", "", types.CategoryDelete, nil)
	require.NoError(t, err)
}
