// Package reconciler converges local records toward what backends
// currently report, one (scope, entity type) pass at a time. It makes
// no assumption about prior executor activity: discovered objects are
// adopted, vanished ones are removed once safely terminal, drifted
// trackable fields are patched.
package reconciler

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
	"github.com/yairfalse/ohjaamo/policy"
	"github.com/yairfalse/ohjaamo/store"
	"github.com/yairfalse/ohjaamo/telemetry"
	"github.com/yairfalse/ohjaamo/types"
)

// PassSpec declares one reconciliation pass. Parent names an entity
// type that must already exist locally in the scope, expressing the
// structural nesting order. Owner marks a component-level pass run
// per owning resource of that type.
type PassSpec struct {
	Type   types.EntityType
	Parent types.EntityType
	Owner  types.EntityType
}

// DefaultOrder is the explicit topological order of the pass list:
// tenants first, then networks, then the types nested under them.
var DefaultOrder = []PassSpec{
	{Type: types.TypeTenant},
	{Type: types.TypeNetwork, Parent: types.TypeTenant},
	{Type: types.TypeSubnet, Parent: types.TypeNetwork},
	{Type: types.TypeSecurityGroup, Parent: types.TypeTenant},
	{Type: types.TypeFloatingIP, Parent: types.TypeTenant},
	{Type: types.TypeVirtualEnv, Owner: types.TypeTenant},
}

// PassResult summarizes one pass.
type PassResult struct {
	Type    types.EntityType `json:"type"`
	Skipped bool             `json:"skipped,omitempty"`
	Created int              `json:"created"`
	Updated int              `json:"updated"`
	Deleted int              `json:"deleted"`
	Denied  int              `json:"denied,omitempty"`
}

// Summary aggregates one full reconciliation cycle for a scope.
type Summary struct {
	ScopeID  string        `json:"scope_id"`
	Passes   []PassResult  `json:"passes"`
	Duration time.Duration `json:"duration"`
}

// Changed reports whether the cycle touched anything.
func (s Summary) Changed() bool {
	for _, p := range s.Passes {
		if p.Created+p.Updated+p.Deleted > 0 {
			return true
		}
	}
	return false
}

// keyedLocks serializes passes per (scope, type) without blocking
// unrelated keys.
type keyedLocks struct {
	mu sync.Mutex
	m  map[string]*sync.Mutex
}

func (k *keyedLocks) lock(key string) func() {
	k.mu.Lock()
	if k.m == nil {
		k.m = make(map[string]*sync.Mutex)
	}
	l, ok := k.m[key]
	if !ok {
		l = &sync.Mutex{}
		k.m[key] = l
	}
	k.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// MetricsRecorder receives per-pass change counts from the engine.
type MetricsRecorder interface {
	RecordReconcileChanges(ctx context.Context, scopeID, entity string, count int)
}

// Engine runs reconciliation passes.
type Engine struct {
	store     *store.Store
	adapters  *backend.Registry
	guard     *policy.Guard
	journal   *journal.Journal
	logger    *telemetry.Logger
	tracer    trace.Tracer
	metrics   MetricsRecorder
	order     []PassSpec
	scopeKind types.ScopeKind
	locks     keyedLocks
}

// NewEngine creates a reconciler over the given pass order. A nil
// order means DefaultOrder; a nil guard allows all deletions.
func NewEngine(st *store.Store, adapters *backend.Registry, guard *policy.Guard, jrn *journal.Journal, scopeKind types.ScopeKind, order []PassSpec) *Engine {
	if order == nil {
		order = DefaultOrder
	}
	if guard == nil {
		guard = policy.NewGuard()
	}
	return &Engine{
		store:     st,
		adapters:  adapters,
		guard:     guard,
		journal:   jrn,
		logger:    telemetry.NewLogger("reconciler"),
		tracer:    otel.Tracer("reconciler"),
		order:     order,
		scopeKind: scopeKind,
	}
}

// SetMetrics attaches a metrics recorder.
func (e *Engine) SetMetrics(m MetricsRecorder) {
	e.metrics = m
}

// ReconcileScope runs every configured pass for one scope, in order.
// Pass failures are collected per pass; one failing backend does not
// abort the remaining passes.
func (e *Engine) ReconcileScope(ctx context.Context, scopeID string) (Summary, error) {
	ctx, span := e.tracer.Start(ctx, "reconciler.scope",
		trace.WithAttributes(attribute.String("scope.id", scopeID)))
	defer span.End()

	start := time.Now()
	summary := Summary{ScopeID: scopeID}
	var firstErr error

	for _, spec := range e.order {
		var (
			result PassResult
			err    error
		)
		if spec.Owner != "" {
			result, err = e.reconcileComponents(ctx, scopeID, spec)
		} else {
			result, err = e.reconcileResources(ctx, scopeID, spec)
		}
		if err != nil {
			e.logger.WithContext(ctx).Error().
				Err(err).
				Str("scope_id", scopeID).
				Str("entity_type", string(spec.Type)).
				Msg("reconciliation pass failed")
			if firstErr == nil {
				firstErr = fmt.Errorf("pass %s: %w", spec.Type, err)
			}
			continue
		}
		if e.metrics != nil {
			e.metrics.RecordReconcileChanges(ctx, scopeID, string(spec.Type), result.Created+result.Updated+result.Deleted)
		}
		summary.Passes = append(summary.Passes, result)
	}

	summary.Duration = time.Since(start)

	if err := e.journal.Append(journal.EntryReconciled, "", "", summary); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("journal reconcile summary: %w", err)
	}

	return summary, firstErr
}

// reconcileResources converges the scope's resources of one type.
func (e *Engine) reconcileResources(ctx context.Context, scopeID string, spec PassSpec) (PassResult, error) {
	unlock := e.locks.lock(scopeID + "/" + string(spec.Type))
	defer unlock()

	result := PassResult{Type: spec.Type}

	if spec.Parent != "" {
		has, err := e.store.HasResource(ctx, scopeID, spec.Parent)
		if err != nil {
			return result, err
		}
		if !has {
			result.Skipped = true
			return result, nil
		}
	}

	adapter, err := e.adapters.Adapter(spec.Type)
	if err != nil {
		if types.IsNotFound(err) {
			result.Skipped = true
			return result, nil
		}
		return result, err
	}

	listed, err := adapter.List(ctx, scopeID)
	if err != nil {
		return result, &types.BackendError{Op: "list", Detail: fmt.Sprintf("list %s in scope %s", spec.Type, scopeID), Err: err}
	}
	backendSet := recordSet(listed)

	resources, err := e.store.ResourcesWithBackendID(ctx, scopeID, spec.Type)
	if err != nil {
		return result, err
	}
	localSet := make(map[string]Local, len(resources))
	for backendID, res := range resources {
		localSet[backendID] = Local{
			ID:          res.ID,
			BackendID:   backendID,
			State:       res.State,
			Name:        res.Name,
			Description: res.Description,
			Status:      res.Status,
		}
	}

	changes := Diff(backendSet, localSet)

	for _, rec := range changes.Additions {
		ok, err := e.parentKnown(ctx, scopeID, spec, rec)
		if err != nil {
			return result, err
		}
		if !ok {
			continue
		}
		if err := e.adoptResource(ctx, scopeID, spec.Type, rec); err != nil {
			return result, err
		}
		result.Created++
	}

	for _, local := range changes.Removals {
		res, err := e.store.GetResource(ctx, local.ID)
		if err != nil {
			if types.IsNotFound(err) {
				continue
			}
			return result, err
		}
		allowed, reason, err := e.guard.AllowDelete(ctx, *res)
		if err != nil {
			return result, err
		}
		if !allowed {
			result.Denied++
			e.logger.WithContext(ctx).Warn().
				Str("resource_id", local.ID).
				Str("reason", reason).
				Msg("stale record kept by policy")
			continue
		}
		if err := e.store.DeleteResource(ctx, local.ID); err != nil {
			return result, err
		}
		if err := e.journal.Append(journal.EntryRemoved, local.ID, "", map[string]string{"backend_id": local.BackendID}); err != nil {
			return result, err
		}
		result.Deleted++
	}

	for _, patch := range changes.Updates {
		if err := e.store.PatchResourceFields(ctx, patch.LocalID, patch.Fields); err != nil {
			return result, err
		}
		result.Updated++
	}

	e.logger.LogReconcilePass(ctx, scopeID, string(spec.Type), result.Created, result.Updated, result.Deleted)
	return result, nil
}

// reconcileComponents converges the components of one type under
// every locally known owner resource.
func (e *Engine) reconcileComponents(ctx context.Context, scopeID string, spec PassSpec) (PassResult, error) {
	unlock := e.locks.lock(scopeID + "/" + string(spec.Type))
	defer unlock()

	result := PassResult{Type: spec.Type}

	adapter, err := e.adapters.Adapter(spec.Type)
	if err != nil {
		if types.IsNotFound(err) {
			result.Skipped = true
			return result, nil
		}
		return result, err
	}

	owners, err := e.store.ListResources(ctx, scopeID, spec.Owner)
	if err != nil {
		return result, err
	}

	for _, owner := range owners {
		if owner.BackendID == "" {
			continue
		}
		if err := e.reconcileOwnerComponents(ctx, adapter, owner, spec.Type, &result); err != nil {
			return result, err
		}
	}

	e.logger.LogReconcilePass(ctx, scopeID, string(spec.Type), result.Created, result.Updated, result.Deleted)
	return result, nil
}

func (e *Engine) reconcileOwnerComponents(ctx context.Context, adapter backend.Adapter, owner types.Resource, entity types.EntityType, result *PassResult) error {
	listed, err := adapter.List(ctx, owner.BackendID)
	if err != nil {
		return &types.BackendError{Op: "list", Detail: fmt.Sprintf("list %s under %s", entity, owner.ID), Err: err}
	}
	backendSet := recordSet(listed)

	comps, err := e.store.ComponentsByResource(ctx, owner.ID, entity)
	if err != nil {
		return err
	}
	localSet := make(map[string]Local, len(comps))
	for backendID, comp := range comps {
		localSet[backendID] = Local{
			ID:          comp.ID,
			BackendID:   backendID,
			State:       comp.State,
			Name:        comp.Name,
			Description: comp.Description,
			Status:      comp.Status,
		}
	}

	changes := Diff(backendSet, localSet)

	for _, rec := range changes.Additions {
		comp := types.Component{
			ID:          uuid.NewString(),
			ResourceID:  owner.ID,
			BackendID:   rec.BackendID,
			Type:        entity,
			State:       types.StateOK,
			Name:        rec.Name,
			Description: rec.Description,
			Status:      rec.Status,
		}
		if err := e.store.CreateComponent(ctx, comp); err != nil {
			return err
		}
		if err := e.journal.Append(journal.EntryDiscovered, owner.ID, "", rec); err != nil {
			return err
		}
		result.Created++
	}

	for _, local := range changes.Removals {
		if err := e.store.DeleteComponent(ctx, local.ID); err != nil {
			return err
		}
		if err := e.journal.Append(journal.EntryRemoved, owner.ID, "", map[string]string{"backend_id": local.BackendID}); err != nil {
			return err
		}
		result.Deleted++
	}

	for _, patch := range changes.Updates {
		if err := e.store.PatchComponentFields(ctx, patch.LocalID, patch.Fields); err != nil {
			return err
		}
		result.Updated++
	}

	return nil
}

// adoptResource creates a local record for an object discovered on
// the backend. Discovered records start in OK; they were not
// self-provisioned.
func (e *Engine) adoptResource(ctx context.Context, scopeID string, entity types.EntityType, rec backend.Record) error {
	res := types.Resource{
		ID:          uuid.NewString(),
		BackendID:   rec.BackendID,
		Type:        entity,
		Scope:       types.ScopeRef{Kind: e.scopeKind, ID: scopeID},
		State:       types.StateOK,
		Name:        rec.Name,
		Description: rec.Description,
		Status:      rec.Status,
	}
	if err := e.store.CreateResource(ctx, res); err != nil {
		return err
	}
	return e.journal.Append(journal.EntryDiscovered, res.ID, "", rec)
}

// parentKnown checks that a nested backend record's parent is already
// tracked locally; unknown parents defer adoption to a later cycle.
func (e *Engine) parentKnown(ctx context.Context, scopeID string, spec PassSpec, rec backend.Record) (bool, error) {
	if spec.Parent == "" || rec.ParentID == "" {
		return true, nil
	}
	parents, err := e.store.ResourcesWithBackendID(ctx, scopeID, spec.Parent)
	if err != nil {
		return false, err
	}
	_, ok := parents[rec.ParentID]
	return ok, nil
}

func recordSet(records []backend.Record) map[string]backend.Record {
	set := make(map[string]backend.Record, len(records))
	for _, rec := range records {
		set[rec.BackendID] = rec
	}
	return set
}
