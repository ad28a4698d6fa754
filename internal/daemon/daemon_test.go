package daemon

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/ohjaamo/internal/config"
	"github.com/yairfalse/ohjaamo/types"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Storage: config.StorageConfig{Dir: t.TempDir()},
		Backend: config.BackendConfig{Kind: "memory"},
		Executor: config.ExecutorConfig{
			Workers:       2,
			CallTimeout:   5 * time.Second,
			SweepInterval: time.Minute,
		},
		Reconciler: config.ReconcilerConfig{
			Interval:  time.Minute,
			ScopeKind: "tenant",
			Scopes:    []string{"acme"},
		},
		Status: config.StatusConfig{BurstWindow: time.Minute},
	}
}

func TestNew_MemoryBackend(t *testing.T) {
	d, err := New(context.Background(), testConfig(t), nil)
	require.NoError(t, err)
	defer func() { _ = d.Close() }()

	assert.NotNil(t, d.Store())
	assert.NotNil(t, d.Journal())
	assert.NotNil(t, d.Coordinator())
	assert.NotNil(t, d.Executor())
	assert.NotNil(t, d.Reconciler())
	assert.NotNil(t, d.Aggregator())
}

func TestNew_UnknownBackend(t *testing.T) {
	cfg := testConfig(t)
	cfg.Backend.Kind = "azure"

	_, err := New(context.Background(), cfg, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown backend kind")
}

func TestDaemon_ReconcileEmptyScope(t *testing.T) {
	d, err := New(context.Background(), testConfig(t), nil)
	require.NoError(t, err)
	defer func() { _ = d.Close() }()

	// Nothing in the backend, nothing locally; must be a no-op.
	d.reconcileAll(context.Background())
	assert.Equal(t, int64(1), d.ReconcileCount())
}

func TestDaemon_HealthEndpoints(t *testing.T) {
	cfg := testConfig(t)
	d, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer func() { _ = d.Close() }()

	server := d.metricsServer()

	for _, path := range []string{"/metrics", "/health", "/-/ready"} {
		rec := httptest.NewRecorder()
		server.Handler.ServeHTTP(rec, httptest.NewRequest("GET", path, nil))
		assert.Equal(t, 200, rec.Code, path)
	}
}

func TestDaemon_SweepDrivesOpenRequests(t *testing.T) {
	cfg := testConfig(t)
	cfg.Reconciler.Interval = time.Hour
	cfg.Executor.SweepInterval = 20 * time.Millisecond
	d, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer func() { _ = d.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, d.Store().CreateResource(ctx, types.Resource{
		ID:    "r1",
		Type:  types.TypeNetwork,
		Scope: types.ScopeRef{Kind: types.ScopeTenant, ID: "acme"},
		State: types.StateCreationScheduled,
		Name:  "prod-net",
	}))

	// Admitted with no waiting client; only the sweep can pick it up.
	req, err := d.Coordinator().TryAdmit(ctx, "r1", "", types.CategoryCreate, nil)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	require.Eventually(t, func() bool {
		stored, err := d.Store().GetRequest(context.Background(), req.ID)
		return err == nil && stored.State == types.StateOK
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestDaemon_RunStopsOnCancel(t *testing.T) {
	cfg := testConfig(t)
	cfg.Reconciler.Interval = time.Hour
	d, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer func() { _ = d.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not stop on cancel")
	}
}
