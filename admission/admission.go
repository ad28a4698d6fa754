// Package admission decides whether a new mutating request may be
// created for a (resource, component-key) scope. It is the only
// mechanism keeping two requests for the same locked scope from
// running concurrently; the executor relies on that guarantee.
package admission

import (
	"context"

	"github.com/google/uuid"

	"github.com/yairfalse/ohjaamo/store"
	"github.com/yairfalse/ohjaamo/telemetry"
	"github.com/yairfalse/ohjaamo/types"
)

// IsAdmissible reports whether a request of the given category and
// component key may join the snapshot of open requests. It is pure:
// storage is queried by the caller.
//
// Locking rules: a resource-wide category conflicts with every open
// request on the resource; a component-scoped category conflicts with
// open resource-wide requests and with open requests sharing its
// component key.
func IsAdmissible(category types.Category, componentKey string, open []types.Request) bool {
	return blockingRequest(category, componentKey, open) == nil
}

// blockingRequest returns the open request that holds the lock, or
// nil when the scope is free.
func blockingRequest(category types.Category, componentKey string, open []types.Request) *types.Request {
	for i := range open {
		req := &open[i]
		if category.ResourceWide() || req.Category.ResourceWide() {
			return req
		}
		if req.ComponentKey == componentKey {
			return req
		}
	}
	return nil
}

// InitialState returns the lifecycle state a freshly admitted request
// of the given category starts in.
func InitialState(category types.Category) types.State {
	switch category {
	case types.CategoryDelete, types.CategoryComponentDelete:
		return types.StateDeletionScheduled
	case types.CategoryCreate, types.CategoryComponentCreate:
		return types.StateCreationScheduled
	default:
		return types.StateUpdateScheduled
	}
}

// MetricsRecorder receives admission rejections from the coordinator.
type MetricsRecorder interface {
	RecordAdmissionRejection(ctx context.Context, category string)
}

// Coordinator admits requests against the record store.
type Coordinator struct {
	store   *store.Store
	logger  *telemetry.Logger
	metrics MetricsRecorder
}

// NewCoordinator creates an admission coordinator.
func NewCoordinator(st *store.Store) *Coordinator {
	return &Coordinator{
		store:  st,
		logger: telemetry.NewLogger("admission"),
	}
}

// SetMetrics attaches a metrics recorder.
func (c *Coordinator) SetMetrics(m MetricsRecorder) {
	c.metrics = m
}

// TryAdmit admits or refuses a new request for the scope. On refusal
// it returns LockedError and performs no mutation at all; on success
// the created request is the only mutation. It never talks to a
// backend.
func (c *Coordinator) TryAdmit(ctx context.Context, resourceID, componentKey string, category types.Category, args map[string]string) (*types.Request, error) {
	if resourceID == "" {
		return nil, types.Validationf("resource id is required")
	}
	if !category.Known() {
		return nil, types.Validationf("unknown request category %q", category)
	}
	if !category.ResourceWide() && componentKey == "" {
		return nil, types.Validationf("category %s requires a component key", category)
	}
	if category.ResourceWide() && componentKey != "" {
		return nil, types.Validationf("category %s does not take a component key", category)
	}

	if _, err := c.store.GetResource(ctx, resourceID); err != nil {
		return nil, err
	}

	req := types.Request{
		ID:           uuid.NewString(),
		ResourceID:   resourceID,
		ComponentKey: componentKey,
		Category:     category,
		State:        InitialState(category),
		Args:         args,
	}

	err := c.store.AdmitRequest(ctx, req, func(open []types.Request) error {
		if holder := blockingRequest(category, componentKey, open); holder != nil {
			return &types.LockedError{
				ResourceID:   resourceID,
				ComponentKey: componentKey,
				HolderID:     holder.ID,
			}
		}
		return nil
	})
	if err != nil {
		if types.IsLocked(err) {
			c.logger.LogAdmissionRejected(ctx, resourceID, componentKey, string(category))
			if c.metrics != nil {
				c.metrics.RecordAdmissionRejection(ctx, string(category))
			}
		}
		return nil, err
	}

	c.logger.WithContext(ctx).Info().
		Str("request_id", req.ID).
		Str("resource_id", resourceID).
		Str("category", string(category)).
		Msg("request admitted")

	admitted, err := c.store.GetRequest(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	return admitted, nil
}
