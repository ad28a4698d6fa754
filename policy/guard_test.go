package policy

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/ohjaamo/types"
)

const keepProduction = `package ohjaamo

deny contains msg if {
	input.resource.name == "production"
	msg := "production resources are never pruned"
}
`

func testResource(name string) types.Resource {
	return types.Resource{
		ID:    "r1",
		Type:  types.TypeNetwork,
		Scope: types.ScopeRef{Kind: types.ScopeTenant, ID: "acme"},
		State: types.StateOK,
		Name:  name,
	}
}

func TestEmptyGuardAllowsEverything(t *testing.T) {
	ctx := context.Background()
	g := NewGuard()

	allowed, reason, err := g.AllowDelete(ctx, testResource("production"))
	require.NoError(t, err)
	assert.True(t, allowed)
	assert.Empty(t, reason)
}

func TestLoadPolicy_DeniesWithReason(t *testing.T) {
	ctx := context.Background()
	g := NewGuard()
	require.NoError(t, g.LoadPolicy(ctx, "keep_production", keepProduction))

	allowed, reason, err := g.AllowDelete(ctx, testResource("production"))
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.Equal(t, "production resources are never pruned", reason)

	allowed, _, err = g.AllowDelete(ctx, testResource("scratch"))
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestLoadPolicy_CompileError(t *testing.T) {
	g := NewGuard()
	err := g.LoadPolicy(context.Background(), "broken", "package ohjaamo\n\ndeny {")
	require.Error(t, err)
}

func TestLoadDir(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "keep.rego"), []byte(keepProduction), 0644))
	// Non-rego files are ignored.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("not a policy"), 0644))

	g := NewGuard()
	require.NoError(t, g.LoadDir(ctx, dir))

	allowed, _, err := g.AllowDelete(ctx, testResource("production"))
	require.NoError(t, err)
	assert.False(t, allowed)
}

func TestLoadDir_MissingDirIsPermissive(t *testing.T) {
	ctx := context.Background()
	g := NewGuard()
	require.NoError(t, g.LoadDir(ctx, filepath.Join(t.TempDir(), "absent")))

	allowed, _, err := g.AllowDelete(ctx, testResource("anything"))
	require.NoError(t, err)
	assert.True(t, allowed)
}
