package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/ohjaamo/lifecycle"
	"github.com/yairfalse/ohjaamo/types"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testResource(id, scopeID string, entity types.EntityType, state types.State) types.Resource {
	return types.Resource{
		ID:    id,
		Type:  entity,
		Scope: types.ScopeRef{Kind: types.ScopeTenant, ID: scopeID},
		State: state,
		Name:  "test-" + id,
	}
}

func TestOpen_RebuildsIndex(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, s.CreateResource(ctx, testResource("r1", "acme", types.TypeNetwork, types.StateOK)))
	require.NoError(t, s.CreateResource(ctx, testResource("r2", "acme", types.TypeSubnet, types.StateOK)))
	require.NoError(t, s.Close())

	// Reopen: index must come back from disk.
	s, err = Open(dir)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	networks, err := s.ListResources(ctx, "acme", types.TypeNetwork)
	require.NoError(t, err)
	require.Len(t, networks, 1)
	assert.Equal(t, "r1", networks[0].ID)
}

func TestOpen_HeldLock(t *testing.T) {
	dir := t.TempDir()

	s, err := Open(dir)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	// The file lock is held; a second open must fail instead of
	// blocking forever.
	_, err = Open(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "in use")
}

func TestCreateResource_Validation(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	tests := []struct {
		name string
		res  types.Resource
	}{
		{"missing id", types.Resource{Type: types.TypeNetwork, Scope: types.ScopeRef{Kind: types.ScopeTenant, ID: "acme"}, State: types.StateOK}},
		{"missing type", types.Resource{ID: "r1", Scope: types.ScopeRef{Kind: types.ScopeTenant, ID: "acme"}, State: types.StateOK}},
		{"invalid scope kind", types.Resource{ID: "r1", Type: types.TypeNetwork, Scope: types.ScopeRef{Kind: "cluster", ID: "acme"}, State: types.StateOK}},
		{"empty scope id", types.Resource{ID: "r1", Type: types.TypeNetwork, Scope: types.ScopeRef{Kind: types.ScopeTenant}, State: types.StateOK}},
		{"state outside vocabulary", types.Resource{ID: "r1", Type: types.TypeNetwork, Scope: types.ScopeRef{Kind: types.ScopeTenant, ID: "acme"}, State: "LIMBO"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.CreateResource(ctx, tt.res)
			require.Error(t, err)
			var verr *types.ValidationError
			assert.ErrorAs(t, err, &verr)
		})
	}
}

func TestCreateResource_DuplicateRejected(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	res := testResource("r1", "acme", types.TypeNetwork, types.StateCreationScheduled)
	require.NoError(t, s.CreateResource(ctx, res))
	require.Error(t, s.CreateResource(ctx, res))
}

func TestDeleteResource_RemovesRowAndIndex(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.CreateResource(ctx, testResource("r1", "acme", types.TypeNetwork, types.StateOK)))
	require.NoError(t, s.DeleteResource(ctx, "r1"))

	_, err := s.GetResource(ctx, "r1")
	assert.True(t, types.IsNotFound(err))

	all, err := s.ListResources(ctx, "acme", "")
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestListResources_FiltersByScopeAndType(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.CreateResource(ctx, testResource("r1", "acme", types.TypeNetwork, types.StateOK)))
	require.NoError(t, s.CreateResource(ctx, testResource("r2", "acme", types.TypeSubnet, types.StateOK)))
	require.NoError(t, s.CreateResource(ctx, testResource("r3", "globex", types.TypeNetwork, types.StateOK)))

	all, err := s.ListResources(ctx, "acme", "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	networks, err := s.ListResources(ctx, "acme", types.TypeNetwork)
	require.NoError(t, err)
	require.Len(t, networks, 1)
	assert.Equal(t, "r1", networks[0].ID)
}

func TestResourcesWithBackendID_ExcludesUnprovisioned(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.CreateResource(ctx, testResource("r1", "acme", types.TypeNetwork, types.StateOK)))
	require.NoError(t, s.CreateResource(ctx, testResource("r2", "acme", types.TypeNetwork, types.StateCreationScheduled)))
	require.NoError(t, s.SetResourceBackendID(ctx, "r1", "vpc-1"))

	byBackend, err := s.ResourcesWithBackendID(ctx, "acme", types.TypeNetwork)
	require.NoError(t, err)
	require.Len(t, byBackend, 1)
	assert.Equal(t, "r1", byBackend["vpc-1"].ID)
}

func TestSetResourceBackendID_Immutable(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.CreateResource(ctx, testResource("r1", "acme", types.TypeNetwork, types.StateCreating)))
	require.NoError(t, s.SetResourceBackendID(ctx, "r1", "vpc-1"))

	// Same value is idempotent, a different one is refused.
	require.NoError(t, s.SetResourceBackendID(ctx, "r1", "vpc-1"))
	require.Error(t, s.SetResourceBackendID(ctx, "r1", "vpc-2"))

	res, err := s.GetResource(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "vpc-1", res.BackendID)
}

func TestPatchResourceFields_OnlyTrackable(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.CreateResource(ctx, testResource("r1", "acme", types.TypeNetwork, types.StateOK)))
	require.NoError(t, s.PatchResourceFields(ctx, "r1", map[string]string{
		"name":        "renamed",
		"description": "fresh",
		"status":      "available",
		"state":       "DELETING", // must be ignored
	}))

	res, err := s.GetResource(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "renamed", res.Name)
	assert.Equal(t, "fresh", res.Description)
	assert.Equal(t, "available", res.Status)
	assert.Equal(t, types.StateOK, res.State)
}

func TestCompareAndSwapState_Resource(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.CreateResource(ctx, testResource("r1", "acme", types.TypeNetwork, types.StateCreationScheduled)))
	ref := lifecycle.RecordRef{Kind: lifecycle.KindResource, ID: "r1"}

	require.NoError(t, s.CompareAndSwapState(ctx, ref, types.StateCreationScheduled, types.StateCreating))

	// Stale observation loses.
	err := s.CompareAndSwapState(ctx, ref, types.StateCreationScheduled, types.StateCreating)
	require.Error(t, err)
	assert.True(t, types.IsConflict(err))

	res, err := s.GetResource(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, types.StateCreating, res.State)
}

func TestCompareAndSwapState_UpdatesIndex(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.CreateResource(ctx, testResource("r1", "acme", types.TypeNetwork, types.StateCreationScheduled)))
	ref := lifecycle.RecordRef{Kind: lifecycle.KindResource, ID: "r1"}
	require.NoError(t, s.CompareAndSwapState(ctx, ref, types.StateCreationScheduled, types.StateErred))

	var indexed *resourceEntry
	s.index.Ascend(func(e *resourceEntry) bool {
		if e.ID == "r1" {
			indexed = e
			return false
		}
		return true
	})
	require.NotNil(t, indexed)
	assert.Equal(t, types.StateErred, indexed.State)
}

func TestCompareAndSwapState_UnknownKind(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	err := s.CompareAndSwapState(ctx, lifecycle.RecordRef{Kind: "widget", ID: "x"}, types.StateOK, types.StateErred)
	require.Error(t, err)
}

func TestForceResourceState_BypassesTable(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.CreateResource(ctx, testResource("r1", "acme", types.TypeNetwork, types.StateCreating)))

	// CREATING -> OK is not an edge schedule transitions allow, the
	// escape hatch writes it anyway.
	require.NoError(t, s.ForceResourceState(ctx, "r1", types.StateErred))

	res, err := s.GetResource(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, types.StateErred, res.State)

	require.Error(t, s.ForceResourceState(ctx, "r1", "LIMBO"))
}

func TestResourceErrorRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.CreateResource(ctx, testResource("r1", "acme", types.TypeNetwork, types.StateErred)))
	require.NoError(t, s.SetResourceError(ctx, "r1", "create failed", "timeout after 30s"))

	res, err := s.GetResource(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "create failed", res.ErrorMessage)
	assert.Equal(t, "timeout after 30s", res.ErrorDetail)

	require.NoError(t, s.ClearResourceError(ctx, "r1"))
	res, err = s.GetResource(ctx, "r1")
	require.NoError(t, err)
	assert.Empty(t, res.ErrorMessage)
	assert.Empty(t, res.ErrorDetail)
}
