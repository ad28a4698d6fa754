// Package daemon assembles the control plane and runs its long-lived
// actors: the request executor, the per-scope reconciliation loop and
// the metrics endpoint.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/oklog/run"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/yairfalse/ohjaamo/admission"
	"github.com/yairfalse/ohjaamo/backend"
	_ "github.com/yairfalse/ohjaamo/backend/aws" // registers EC2 adapter factories
	"github.com/yairfalse/ohjaamo/executor"
	"github.com/yairfalse/ohjaamo/internal/config"
	observability "github.com/yairfalse/ohjaamo/internal/telemetry"
	"github.com/yairfalse/ohjaamo/journal"
	"github.com/yairfalse/ohjaamo/lifecycle"
	"github.com/yairfalse/ohjaamo/policy"
	"github.com/yairfalse/ohjaamo/reconciler"
	"github.com/yairfalse/ohjaamo/status"
	"github.com/yairfalse/ohjaamo/store"
	"github.com/yairfalse/ohjaamo/telemetry"
	"github.com/yairfalse/ohjaamo/types"
)

// managedEntities is every entity type the control plane manages.
var managedEntities = []types.EntityType{
	types.TypeTenant,
	types.TypeNetwork,
	types.TypeSubnet,
	types.TypeSecurityGroup,
	types.TypeFloatingIP,
	types.TypeVirtualEnv,
}

// awsEntities is the subset with EC2-backed adapters.
var awsEntities = []types.EntityType{
	types.TypeNetwork,
	types.TypeSubnet,
	types.TypeSecurityGroup,
}

// Daemon owns the assembled control plane.
type Daemon struct {
	cfg     *config.Config
	logger  *telemetry.Logger
	metrics *Metrics

	store      *store.Store
	journal    *journal.Journal
	machine    *lifecycle.Machine
	registry   *backend.Registry
	guard      *policy.Guard
	admitter   *admission.Coordinator
	executor   *executor.Engine
	reconciler *reconciler.Engine
	aggregator *status.Aggregator

	startTime      time.Time
	reconcileCount atomic.Int64
}

// New builds the control plane from configuration. A nil telemetry
// provider disables OTEL instruments; Prometheus metrics are separate.
// Call Close when done; Run is only needed for daemon mode.
func New(ctx context.Context, cfg *config.Config, obs *observability.Provider) (*Daemon, error) {
	st, err := store.Open(cfg.Storage.Dir)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	jrn, err := journal.Open(cfg.Storage.Dir)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("open journal: %w", err)
	}

	registry, err := buildRegistry(ctx, cfg.Backend)
	if err != nil {
		_ = jrn.Close()
		_ = st.Close()
		return nil, err
	}

	guard := policy.NewGuard()
	if cfg.Policy.Dir != "" {
		if err := guard.LoadDir(ctx, cfg.Policy.Dir); err != nil {
			_ = jrn.Close()
			_ = st.Close()
			return nil, fmt.Errorf("load policies: %w", err)
		}
	}

	machine := lifecycle.NewMachine(st)
	subscribeAudit(machine, jrn)
	d := &Daemon{
		cfg:      cfg,
		logger:   telemetry.NewLogger("daemon"),
		metrics:  NewMetrics(),
		store:    st,
		journal:  jrn,
		machine:  machine,
		registry: registry,
		guard:    guard,
		admitter: admission.NewCoordinator(st),
		executor: executor.NewEngine(st, machine, registry, jrn, executor.Options{
			Workers:     cfg.Executor.Workers,
			CallTimeout: cfg.Executor.CallTimeout,
		}),
		reconciler: reconciler.NewEngine(st, registry, guard, jrn,
			types.ScopeKind(cfg.Reconciler.ScopeKind), nil),
		aggregator: status.NewAggregator(st, status.WithBurstWindow(cfg.Status.BurstWindow)),
		startTime:  time.Now(),
	}
	if obs != nil {
		d.executor.SetMetrics(obs)
		d.reconciler.SetMetrics(obs)
		d.admitter.SetMetrics(obs)
	}
	return d, nil
}

// subscribeAudit attaches the audit log and journal observers so every
// committed transition leaves a trace, whichever engine drove it.
func subscribeAudit(machine *lifecycle.Machine, jrn *journal.Journal) {
	audit := telemetry.NewLogger("lifecycle")
	machine.Subscribe(lifecycle.ObserverFunc(func(ctx context.Context, ev lifecycle.Event) {
		audit.LogTransition(ctx, string(ev.Ref.Kind), ev.Ref.ID, string(ev.Transition), string(ev.From), string(ev.To))
	}))
	machine.Subscribe(lifecycle.ObserverFunc(func(_ context.Context, ev lifecycle.Event) {
		resourceID, requestID := "", ""
		switch ev.Ref.Kind {
		case lifecycle.KindResource:
			resourceID = ev.Ref.ID
		case lifecycle.KindRequest:
			requestID = ev.Ref.ID
		}
		_ = jrn.Append(journal.EntryTransition, resourceID, requestID, map[string]string{
			"transition": string(ev.Transition),
			"from":       string(ev.From),
			"to":         string(ev.To),
		})
	}))
}

func buildRegistry(ctx context.Context, cfg config.BackendConfig) (*backend.Registry, error) {
	switch cfg.Kind {
	case "memory":
		adapters := make(map[types.EntityType]backend.Adapter, len(managedEntities))
		for _, entity := range managedEntities {
			adapters[entity] = backend.NewFake()
		}
		return backend.NewStaticRegistry(adapters), nil
	case "aws":
		return backend.NewRegistry(ctx, backend.Config{
			Region:  cfg.Region,
			Profile: cfg.Profile,
		}, awsEntities)
	default:
		return nil, fmt.Errorf("unknown backend kind %q", cfg.Kind)
	}
}

// Store exposes the record store for CLI commands.
func (d *Daemon) Store() *store.Store { return d.store }

// Journal exposes the operation journal.
func (d *Daemon) Journal() *journal.Journal { return d.journal }

// Coordinator exposes the admission coordinator.
func (d *Daemon) Coordinator() *admission.Coordinator { return d.admitter }

// Executor exposes the request executor.
func (d *Daemon) Executor() *executor.Engine { return d.executor }

// Reconciler exposes the reconciliation engine.
func (d *Daemon) Reconciler() *reconciler.Engine { return d.reconciler }

// Aggregator exposes the status aggregator.
func (d *Daemon) Aggregator() *status.Aggregator { return d.aggregator }

// Run starts the actor group and blocks until the context is cancelled
// or an actor fails.
func (d *Daemon) Run(ctx context.Context) error {
	var group run.Group

	// Context cancellation stops the whole group.
	{
		ctx, cancel := context.WithCancel(ctx)
		group.Add(func() error {
			<-ctx.Done()
			return ctx.Err()
		}, func(error) {
			cancel()
		})
	}

	// Request executor worker pool.
	{
		ctx, cancel := context.WithCancel(ctx)
		group.Add(func() error {
			return d.executor.Run(ctx)
		}, func(error) {
			cancel()
		})
	}

	// Per-scope reconciliation loop.
	{
		ctx, cancel := context.WithCancel(ctx)
		group.Add(func() error {
			return d.reconcileLoop(ctx)
		}, func(error) {
			cancel()
		})
	}

	// Open-request sweep. Feeds the executor: requests admitted with no
	// waiting client, and requests left mid-plan by a crash.
	{
		ctx, cancel := context.WithCancel(ctx)
		group.Add(func() error {
			return d.sweepLoop(ctx)
		}, func(error) {
			cancel()
		})
	}

	// Metrics and health endpoint.
	if d.cfg.OTEL.Metrics.Prometheus {
		server := d.metricsServer()
		group.Add(func() error {
			err := server.ListenAndServe()
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		}, func(error) {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = server.Shutdown(shutdownCtx)
		})
	}

	d.logger.WithContext(ctx).Info().
		Str("backend", d.cfg.Backend.Kind).
		Dur("interval", d.cfg.Reconciler.Interval).
		Int("scopes", len(d.cfg.Reconciler.Scopes)).
		Msg("daemon starting")

	err := group.Run()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (d *Daemon) sweepLoop(ctx context.Context) error {
	ticker := time.NewTicker(d.cfg.Executor.SweepInterval)
	defer ticker.Stop()

	d.sweepRequests(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			d.sweepRequests(ctx)
		}
	}
}

// sweepRequests submits every open request to the executor. Submit
// deduplicates, so resubmitting a request already in flight is a no-op.
func (d *Daemon) sweepRequests(ctx context.Context) {
	open, err := d.store.AllOpenRequests(ctx)
	if err != nil {
		d.logger.WithContext(ctx).Error().
			Err(err).
			Msg("open request sweep failed")
		return
	}
	for _, req := range open {
		queued, err := d.executor.Submit(ctx, req)
		if err != nil {
			return
		}
		if queued {
			d.metrics.RecordRequestSubmitted(string(req.Category))
		}
	}
}

func (d *Daemon) reconcileLoop(ctx context.Context) error {
	ticker := time.NewTicker(d.cfg.Reconciler.Interval)
	defer ticker.Stop()

	d.reconcileAll(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			d.reconcileAll(ctx)
		}
	}
}

func (d *Daemon) reconcileAll(ctx context.Context) {
	for _, scopeID := range d.cfg.Reconciler.Scopes {
		if ctx.Err() != nil {
			return
		}
		d.reconcileScope(ctx, scopeID)
	}
	d.reconcileCount.Add(1)
}

func (d *Daemon) reconcileScope(ctx context.Context, scopeID string) {
	start := time.Now()
	summary, err := d.reconciler.ReconcileScope(ctx, scopeID)

	var created, updated, deleted int
	for _, pass := range summary.Passes {
		created += pass.Created
		updated += pass.Updated
		deleted += pass.Deleted
	}
	d.metrics.RecordReconcile(scopeID, time.Since(start), created, updated, deleted, err)

	if err != nil {
		d.logger.WithContext(ctx).Error().
			Err(err).
			Str("scope_id", scopeID).
			Msg("reconciliation failed")
	}
}

func (d *Daemon) metricsServer() *http.Server {
	mux := http.NewServeMux()
	gatherers := prometheus.Gatherers{d.metrics.Registry(), prometheus.DefaultGatherer}
	mux.Handle("/metrics", promhttp.HandlerFor(gatherers, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = fmt.Fprintf(w, "ok uptime=%ds reconciles=%d\n",
			int64(time.Since(d.startTime).Seconds()), d.reconcileCount.Load())
	})
	mux.HandleFunc("/-/ready", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	return &http.Server{
		Addr:              fmt.Sprintf(":%d", d.cfg.OTEL.Metrics.ListenPort),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// ReconcileCount returns how many full loops have completed.
func (d *Daemon) ReconcileCount() int64 {
	return d.reconcileCount.Load()
}

// Close releases the store and journal.
func (d *Daemon) Close() error {
	jerr := d.journal.Close()
	serr := d.store.Close()
	if jerr != nil {
		return jerr
	}
	return serr
}
