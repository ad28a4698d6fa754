// Package executor carries admitted requests to completion by running
// their ordered step plans against backend adapters. Different
// resources execute in parallel on a worker pool; per-scope
// exclusivity is the admission coordinator's guarantee, so one
// request per scope is an execution-time assumption here.
package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/yairfalse/ohjaamo/backend"
	"github.com/yairfalse/ohjaamo/journal"
	"github.com/yairfalse/ohjaamo/lifecycle"
	"github.com/yairfalse/ohjaamo/store"
	"github.com/yairfalse/ohjaamo/telemetry"
	"github.com/yairfalse/ohjaamo/types"
)

// Options tunes the engine.
type Options struct {
	Workers     int
	CallTimeout time.Duration
	QueueDepth  int
}

func (o *Options) withDefaults() Options {
	out := *o
	if out.Workers <= 0 {
		out.Workers = 4
	}
	if out.CallTimeout <= 0 {
		out.CallTimeout = 30 * time.Second
	}
	if out.QueueDepth <= 0 {
		out.QueueDepth = 64
	}
	return out
}

// MetricsRecorder receives request timing from the engine.
type MetricsRecorder interface {
	RecordRequestDuration(ctx context.Context, category, outcome string, d time.Duration)
}

// Engine executes admitted requests.
type Engine struct {
	store    *store.Store
	machine  *lifecycle.Machine
	adapters *backend.Registry
	journal  *journal.Journal
	logger   *telemetry.Logger
	tracer   trace.Tracer
	metrics  MetricsRecorder
	options  Options
	queue    chan types.Request

	mu       sync.Mutex
	inflight map[string]struct{}
}

// NewEngine creates an executor engine.
func NewEngine(st *store.Store, machine *lifecycle.Machine, adapters *backend.Registry, jrn *journal.Journal, options Options) *Engine {
	opts := options.withDefaults()
	return &Engine{
		store:    st,
		machine:  machine,
		adapters: adapters,
		journal:  jrn,
		logger:   telemetry.NewLogger("executor"),
		tracer:   otel.Tracer("executor"),
		options:  opts,
		queue:    make(chan types.Request, opts.QueueDepth),
		inflight: make(map[string]struct{}),
	}
}

// SetMetrics attaches a metrics recorder. Call before Run.
func (e *Engine) SetMetrics(m MetricsRecorder) {
	e.metrics = m
}

// Submit queues an admitted request for execution and reports whether
// it was newly enqueued. A request already queued or executing is
// dropped, so the periodic sweep can resubmit open requests without
// double-running them.
func (e *Engine) Submit(ctx context.Context, req types.Request) (bool, error) {
	e.mu.Lock()
	if _, dup := e.inflight[req.ID]; dup {
		e.mu.Unlock()
		return false, nil
	}
	e.inflight[req.ID] = struct{}{}
	e.mu.Unlock()

	select {
	case e.queue <- req:
		return true, nil
	case <-ctx.Done():
		e.forget(req.ID)
		return false, ctx.Err()
	}
}

func (e *Engine) forget(id string) {
	e.mu.Lock()
	delete(e.inflight, id)
	e.mu.Unlock()
}

// Run starts the worker pool and blocks until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for i := 0; i < e.options.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.worker(ctx)
		}()
	}
	wg.Wait()
	return nil
}

func (e *Engine) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-e.queue:
			err := e.Execute(ctx, req)
			e.forget(req.ID)
			if err != nil {
				e.logger.WithContext(ctx).Error().
					Err(err).
					Str("request_id", req.ID).
					Msg("request execution aborted")
			}
		}
	}
}

// run tracks the mutable execution state of one request.
type run struct {
	req      types.Request
	res      *types.Resource
	reqState types.State
	resState types.State
}

func (r *run) resourceWide() bool {
	return r.req.Category.ResourceWide()
}

// Execute runs one request's step plan strictly in order. A failed or
// timed-out backend call short-circuits the rest of the plan into a
// terminal ERRED transition; the error is persisted, not returned, so
// other requests keep processing. Returned errors are infrastructure
// problems (lost CAS races, store failures), never backend failures.
func (e *Engine) Execute(ctx context.Context, req types.Request) error {
	ctx, span := e.tracer.Start(ctx, "executor.execute",
		trace.WithAttributes(
			attribute.String("request.id", req.ID),
			attribute.String("request.category", string(req.Category)),
		))
	defer span.End()

	start := time.Now()
	outcome := "aborted"
	defer func() {
		if e.metrics != nil {
			e.metrics.RecordRequestDuration(ctx, string(req.Category), outcome, time.Since(start))
		}
	}()

	res, err := e.store.GetResource(ctx, req.ResourceID)
	if err != nil {
		return fmt.Errorf("load resource for request %s: %w", req.ID, err)
	}

	steps, err := e.loadPlan(ctx, &req)
	if err != nil {
		return err
	}

	r := &run{req: req, res: res, reqState: req.State, resState: res.State}

	for i, step := range steps {
		if err := e.runStep(ctx, r, i, step); err != nil {
			return err
		}
		if r.reqState == types.StateErred {
			// Backend failure already converted to a clean terminal
			// state; remaining steps are skipped.
			outcome = "erred"
			return nil
		}
	}

	if err := e.cleanupAfterDelete(ctx, r); err != nil {
		return err
	}

	if err := e.journal.Append(journal.EntryExecuted, r.res.ID, r.req.ID, r.req.Category); err != nil {
		return fmt.Errorf("journal executed entry: %w", err)
	}

	e.logger.WithContext(ctx).Info().
		Str("request_id", r.req.ID).
		Str("resource_id", r.res.ID).
		Str("category", string(r.req.Category)).
		Msg("request completed")

	outcome = "ok"
	return nil
}

// loadPlan reuses the persisted plan when resuming, otherwise builds
// and persists the canonical plan for the category.
func (e *Engine) loadPlan(ctx context.Context, req *types.Request) ([]Step, error) {
	if len(req.Plan) > 0 {
		return DecodePlan(req.Plan)
	}

	steps, err := PlanFor(req.Category)
	if err != nil {
		return nil, err
	}
	encoded, err := EncodePlan(steps)
	if err != nil {
		return nil, err
	}
	if err := e.store.SetRequestPlan(ctx, req.ID, encoded); err != nil {
		return nil, fmt.Errorf("persist plan: %w", err)
	}
	req.Plan = encoded
	return steps, nil
}

func (e *Engine) runStep(ctx context.Context, r *run, index int, step Step) error {
	switch step.Kind {
	case StepTransition:
		return e.applyTransition(ctx, r, step.Transition, step.Applies)
	case StepBackendCall:
		return e.runBackendCall(ctx, r, index, step.Call)
	case StepFinalize:
		return e.finalize(ctx, r, step.Terminal)
	default:
		return types.Validationf("unknown step kind %q", step.Kind)
	}
}

// applyTransition moves the request and/or resource one edge along
// the lifecycle table. A record that already holds the transition's
// target committed this step in a previous run and is skipped, which
// is what lets a persisted plan resume after a restart. Lost CAS races
// surface as ConcurrencyConflict and abort the run without forcing
// ERRED; the state is untouched and the operator decides whether to
// retry with a new request.
func (e *Engine) applyTransition(ctx context.Context, r *run, name lifecycle.Transition, applies Applies) error {
	target, declared := lifecycle.Target(name)

	if applies == AppliesResource || applies == AppliesBoth {
		if declared && r.resState == target {
			// committed before a restart
		} else {
			next, err := e.machine.Transition(ctx, lifecycle.RecordRef{Kind: lifecycle.KindResource, ID: r.res.ID}, name, r.resState)
			if err != nil {
				return fmt.Errorf("resource transition %s: %w", name, err)
			}
			r.resState = next
		}
	}
	if applies == AppliesRequest || applies == AppliesBoth {
		if declared && r.reqState == target {
			return nil
		}
		next, err := e.machine.Transition(ctx, lifecycle.RecordRef{Kind: lifecycle.KindRequest, ID: r.req.ID}, name, r.reqState)
		if err != nil {
			return fmt.Errorf("request transition %s: %w", name, err)
		}
		r.reqState = next
	}
	return nil
}

func (e *Engine) runBackendCall(ctx context.Context, r *run, index int, call CallName) error {
	callCtx, cancel := context.WithTimeout(ctx, e.options.CallTimeout)
	defer cancel()

	output, err := e.dispatchCall(callCtx, r, call)
	if err != nil {
		// A timed-out call is treated identically to a failed one.
		return e.failRun(ctx, r, string(call), err)
	}

	if err := e.journal.Append(journal.EntryStep, r.res.ID, r.req.ID, map[string]any{
		"step": index,
		"call": string(call),
	}); err != nil {
		return fmt.Errorf("journal step entry: %w", err)
	}
	if output != "" {
		if err := e.store.AppendRequestOutput(ctx, r.req.ID, output); err != nil {
			return fmt.Errorf("append request output: %w", err)
		}
	}
	return nil
}

// dispatchCall invokes exactly one adapter method for the step.
func (e *Engine) dispatchCall(ctx context.Context, r *run, call CallName) (string, error) {
	if r.resourceWide() {
		return e.dispatchResourceCall(ctx, r, call)
	}
	return e.dispatchComponentCall(ctx, r, call)
}

func (e *Engine) dispatchResourceCall(ctx context.Context, r *run, call CallName) (string, error) {
	adapter, err := e.adapters.Adapter(r.res.Type)
	if err != nil {
		return "", err
	}

	switch call {
	case CallCreate:
		if r.res.BackendID != "" {
			// Provisioned on a previous run; the backend id is immutable.
			return "created " + r.res.BackendID, nil
		}
		spec := backend.CreateSpec{
			Type:        r.res.Type,
			ScopeID:     r.res.Scope.ID,
			Name:        argOr(r.req.Args, "name", r.res.Name),
			Description: argOr(r.req.Args, "description", r.res.Description),
			ParentID:    r.req.Args["parent_id"],
			Attrs:       r.req.Args,
		}
		backendID, err := adapter.Create(ctx, spec)
		if err != nil {
			return "", err
		}
		if err := e.store.SetResourceBackendID(ctx, r.res.ID, backendID); err != nil {
			return "", err
		}
		r.res.BackendID = backendID
		return "created " + backendID, nil

	case CallUpdate:
		if err := adapter.Update(ctx, r.res.BackendID, r.req.Args); err != nil {
			return "", err
		}
		if err := e.store.PatchResourceFields(ctx, r.res.ID, r.req.Args); err != nil {
			return "", err
		}
		return "updated " + r.res.BackendID, nil

	case CallDelete:
		if r.res.BackendID == "" {
			// Never provisioned; nothing to remove remotely.
			return "no backend object to delete", nil
		}
		if err := adapter.Delete(ctx, r.res.BackendID); err != nil {
			return "", err
		}
		return "deleted " + r.res.BackendID, nil

	default:
		return "", types.Validationf("unknown backend call %q", call)
	}
}

func (e *Engine) dispatchComponentCall(ctx context.Context, r *run, call CallName) (string, error) {
	compType := types.EntityType(r.req.Args["type"])
	if compType == "" {
		return "", types.Validationf("component request %s needs a type argument", r.req.ID)
	}
	adapter, err := e.adapters.Adapter(compType)
	if err != nil {
		return "", err
	}

	switch call {
	case CallCreate:
		spec := backend.CreateSpec{
			Type:        compType,
			ScopeID:     r.res.BackendID,
			Name:        r.req.Args["name"],
			Description: r.req.Args["description"],
			ParentID:    r.res.BackendID,
			Attrs:       r.req.Args,
		}
		backendID, err := adapter.Create(ctx, spec)
		if err != nil {
			return "", err
		}
		comp := types.Component{
			ID:          uuid.NewString(),
			ResourceID:  r.res.ID,
			BackendID:   backendID,
			Type:        compType,
			State:       types.StateOK,
			Name:        r.req.Args["name"],
			Description: r.req.Args["description"],
		}
		if err := e.store.CreateComponent(ctx, comp); err != nil {
			return "", err
		}
		return "created component " + backendID, nil

	case CallUpdate:
		backendID := r.req.Args["backend_id"]
		if backendID == "" {
			return "", types.Validationf("component update needs a backend_id argument")
		}
		if err := adapter.Update(ctx, backendID, r.req.Args); err != nil {
			return "", err
		}
		if comp, ok := e.findComponent(ctx, r.res.ID, compType, backendID); ok {
			if err := e.store.PatchComponentFields(ctx, comp.ID, r.req.Args); err != nil {
				return "", err
			}
		}
		return "updated component " + backendID, nil

	case CallDelete:
		backendID := r.req.Args["backend_id"]
		if backendID == "" {
			return "", types.Validationf("component delete needs a backend_id argument")
		}
		if err := adapter.Delete(ctx, backendID); err != nil {
			return "", err
		}
		return "deleted component " + backendID, nil

	default:
		return "", types.Validationf("unknown backend call %q", call)
	}
}

func (e *Engine) findComponent(ctx context.Context, resourceID string, entity types.EntityType, backendID string) (*types.Component, bool) {
	comps, err := e.store.ComponentsByResource(ctx, resourceID, entity)
	if err != nil {
		return nil, false
	}
	comp, ok := comps[backendID]
	if !ok {
		return nil, false
	}
	return &comp, true
}

// finalize marks the terminal state on the records the category owns.
func (e *Engine) finalize(ctx context.Context, r *run, terminal types.State) error {
	name := lifecycle.SetOK
	if terminal == types.StateErred {
		name = lifecycle.SetErred
	}

	applies := AppliesRequest
	if r.resourceWide() {
		applies = AppliesBoth
	}
	if err := e.applyTransition(ctx, r, name, applies); err != nil {
		return err
	}
	if terminal == types.StateOK && r.resourceWide() {
		if err := e.store.ClearResourceError(ctx, r.res.ID); err != nil {
			return err
		}
	}
	return nil
}

// failRun converts a backend failure into a clean terminal ERRED on
// the request (and the resource for resource-wide categories),
// persisting message and diagnostic detail for the operator.
func (e *Engine) failRun(ctx context.Context, r *run, op string, cause error) error {
	berr := &types.BackendError{
		Op:     op,
		Detail: fmt.Sprintf("%s %s for resource %s: %v", op, r.res.Type, r.res.ID, cause),
		Err:    cause,
	}

	e.logger.LogBackendError(ctx, op, r.res.ID, cause)

	if _, err := e.machine.Transition(ctx, lifecycle.RecordRef{Kind: lifecycle.KindRequest, ID: r.req.ID}, lifecycle.SetErred, r.reqState); err != nil {
		return fmt.Errorf("mark request erred: %w", err)
	}
	r.reqState = types.StateErred

	if r.resourceWide() {
		if _, err := e.machine.Transition(ctx, lifecycle.RecordRef{Kind: lifecycle.KindResource, ID: r.res.ID}, lifecycle.SetErred, r.resState); err != nil {
			return fmt.Errorf("mark resource erred: %w", err)
		}
		r.resState = types.StateErred
		if err := e.store.SetResourceError(ctx, r.res.ID, berr.Error(), berr.Detail); err != nil {
			return fmt.Errorf("persist resource error: %w", err)
		}
	}

	if err := e.store.AppendRequestOutput(ctx, r.req.ID, berr.Detail); err != nil {
		return fmt.Errorf("append request output: %w", err)
	}
	if err := e.journal.AppendError(journal.EntryErred, r.res.ID, r.req.ID, map[string]string{"op": op}, berr); err != nil {
		return fmt.Errorf("journal erred entry: %w", err)
	}
	return nil
}

// cleanupAfterDelete drops local rows once a deletion plan finished
// in OK. Request history survives; requests are never deleted.
func (e *Engine) cleanupAfterDelete(ctx context.Context, r *run) error {
	switch r.req.Category {
	case types.CategoryDelete:
		return e.store.DeleteResource(ctx, r.res.ID)
	case types.CategoryComponentDelete:
		compType := types.EntityType(r.req.Args["type"])
		if comp, ok := e.findComponent(ctx, r.res.ID, compType, r.req.Args["backend_id"]); ok {
			return e.store.DeleteComponent(ctx, comp.ID)
		}
		return nil
	default:
		return nil
	}
}

func argOr(args map[string]string, key, fallback string) string {
	if v, ok := args[key]; ok && v != "" {
		return v
	}
	return fallback
}
