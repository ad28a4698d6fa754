package backend

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/ohjaamo/types"
)

func TestStaticRegistry(t *testing.T) {
	fake := NewFake()
	reg := NewStaticRegistry(map[types.EntityType]Adapter{
		types.TypeNetwork: fake,
		types.TypeSubnet:  fake,
	})

	adapter, err := reg.Adapter(types.TypeNetwork)
	require.NoError(t, err)
	assert.Same(t, Adapter(fake), adapter)

	_, err = reg.Adapter(types.TypeFloatingIP)
	assert.True(t, types.IsNotFound(err))

	assert.Equal(t, []types.EntityType{types.TypeNetwork, types.TypeSubnet}, reg.Entities())
}

func TestNewRegistry_UnregisteredType(t *testing.T) {
	_, err := NewRegistry(context.Background(), Config{}, []types.EntityType{"imaginary"})
	require.Error(t, err)
}

func TestFake_CreateGetDelete(t *testing.T) {
	ctx := context.Background()
	fake := NewFake()

	id, err := fake.Create(ctx, CreateSpec{
		Type:    types.TypeNetwork,
		ScopeID: "acme",
		Name:    "prod",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Equal(t, 1, fake.CreateCalls)

	rec, err := fake.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "prod", rec.Name)
	assert.Equal(t, "ACTIVE", rec.Status)

	listed, err := fake.List(ctx, "acme")
	require.NoError(t, err)
	require.Len(t, listed, 1)

	require.NoError(t, fake.Delete(ctx, id))
	_, err = fake.Get(ctx, id)
	assert.True(t, types.IsNotFound(err))
}

func TestFake_Update(t *testing.T) {
	ctx := context.Background()
	fake := NewFake()
	fake.Seed("acme", Record{BackendID: "vpc-1", Name: "old", Status: "pending"})

	require.NoError(t, fake.Update(ctx, "vpc-1", map[string]string{
		"name":   "new",
		"status": "available",
	}))

	rec, err := fake.Get(ctx, "vpc-1")
	require.NoError(t, err)
	assert.Equal(t, "new", rec.Name)
	assert.Equal(t, "available", rec.Status)

	err = fake.Update(ctx, "ghost", map[string]string{"name": "x"})
	assert.True(t, types.IsNotFound(err))
}

func TestFake_InjectedFailures(t *testing.T) {
	ctx := context.Background()
	fake := NewFake()
	boom := errors.New("boom")
	fake.FailCreate = boom
	fake.FailList = boom

	_, err := fake.Create(ctx, CreateSpec{Type: types.TypeNetwork, ScopeID: "acme"})
	require.ErrorIs(t, err, boom)

	_, err = fake.List(ctx, "acme")
	require.ErrorIs(t, err, boom)
}

func TestFake_ListScoped(t *testing.T) {
	ctx := context.Background()
	fake := NewFake()
	fake.Seed("acme", Record{BackendID: "vpc-1"})
	fake.Seed("globex", Record{BackendID: "vpc-2"})

	listed, err := fake.List(ctx, "acme")
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, "vpc-1", listed[0].BackendID)
}
