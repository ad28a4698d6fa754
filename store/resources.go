package store

import (
	"context"
	"encoding/json"
	"time"

	"go.etcd.io/bbolt"

	"github.com/yairfalse/ohjaamo/lifecycle"
	"github.com/yairfalse/ohjaamo/types"
)

// CreateResource inserts a new resource row. The caller sets the
// initial state; creation timestamps are stamped here.
func (s *Store) CreateResource(ctx context.Context, res types.Resource) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	if res.ID == "" || res.Type == "" || !res.Scope.Valid() {
		return types.Validationf("resource needs id, type, and a valid scope")
	}
	if !res.State.Valid() {
		return types.Validationf("resource state %q is not in the lifecycle vocabulary", res.State)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	res.CreatedAt = now
	res.ModifiedAt = now

	err := s.db.Update(func(tx *bbolt.Tx) error {
		if tx.Bucket(bucketResources).Get([]byte(res.ID)) != nil {
			return types.Validationf("resource %s already exists", res.ID)
		}
		return put(tx, bucketResources, res.ID, res)
	})
	if err != nil {
		return err
	}

	s.index.ReplaceOrInsert(indexEntry(&res))
	return nil
}

// GetResource loads one resource row.
func (s *Store) GetResource(ctx context.Context, id string) (*types.Resource, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var res types.Resource
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketResources).Get([]byte(id))
		if data == nil {
			return &types.NotFoundError{Kind: "resource", ID: id}
		}
		return json.Unmarshal(data, &res)
	})
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// DeleteResource removes a resource row and its index entry.
func (s *Store) DeleteResource(ctx context.Context, id string) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketResources)
		if bucket.Get([]byte(id)) == nil {
			return &types.NotFoundError{Kind: "resource", ID: id}
		}
		return bucket.Delete([]byte(id))
	})
	if err != nil {
		return err
	}

	s.index.Delete(&resourceEntry{ID: id})
	return nil
}

// ListResources returns resources in a scope, optionally filtered by
// entity type. An empty type matches all.
func (s *Store) ListResources(ctx context.Context, scopeID string, entity types.EntityType) ([]types.Resource, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}

	s.mu.RLock()
	var ids []string
	s.index.Ascend(func(e *resourceEntry) bool {
		if e.ScopeID == scopeID && (entity == "" || e.Type == entity) {
			ids = append(ids, e.ID)
		}
		return true
	})
	s.mu.RUnlock()

	out := make([]types.Resource, 0, len(ids))
	for _, id := range ids {
		res, err := s.GetResource(ctx, id)
		if err != nil {
			if types.IsNotFound(err) {
				continue
			}
			return nil, err
		}
		out = append(out, *res)
	}
	return out, nil
}

// ResourcesWithBackendID returns the scope's resources of one type
// keyed by backend ID. Rows that never acquired a backend ID (still
// CREATION_SCHEDULED) are excluded, per the reconciliation contract.
func (s *Store) ResourcesWithBackendID(ctx context.Context, scopeID string, entity types.EntityType) (map[string]types.Resource, error) {
	all, err := s.ListResources(ctx, scopeID, entity)
	if err != nil {
		return nil, err
	}

	out := make(map[string]types.Resource, len(all))
	for _, res := range all {
		if res.BackendID == "" {
			continue
		}
		out[res.BackendID] = res
	}
	return out, nil
}

// HasResource reports whether the scope holds any resource of a type.
// The reconciler uses it to skip child passes with no local parent.
func (s *Store) HasResource(ctx context.Context, scopeID string, entity types.EntityType) (bool, error) {
	if err := ctxErr(ctx); err != nil {
		return false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	found := false
	s.index.Ascend(func(e *resourceEntry) bool {
		if e.ScopeID == scopeID && e.Type == entity {
			found = true
			return false
		}
		return true
	})
	return found, nil
}

// SetResourceBackendID records the backend identity after the first
// successful create call. The identity is immutable once set.
func (s *Store) SetResourceBackendID(ctx context.Context, id, backendID string) error {
	if backendID == "" {
		return types.Validationf("backend id cannot be empty")
	}
	return s.mutateResource(ctx, id, func(res *types.Resource) error {
		if res.BackendID != "" && res.BackendID != backendID {
			return types.Validationf("resource %s already has backend id %s", id, res.BackendID)
		}
		res.BackendID = backendID
		return nil
	})
}

// SetResourceError persists failure diagnostics onto the resource.
func (s *Store) SetResourceError(ctx context.Context, id, message, detail string) error {
	return s.mutateResource(ctx, id, func(res *types.Resource) error {
		res.ErrorMessage = message
		res.ErrorDetail = detail
		return nil
	})
}

// ClearResourceError wipes previous failure diagnostics.
func (s *Store) ClearResourceError(ctx context.Context, id string) error {
	return s.mutateResource(ctx, id, func(res *types.Resource) error {
		res.ErrorMessage = ""
		res.ErrorDetail = ""
		return nil
	})
}

// PatchResourceFields updates trackable fields reported by the
// backend. The lifecycle state is deliberately not reachable here.
func (s *Store) PatchResourceFields(ctx context.Context, id string, fields map[string]string) error {
	return s.mutateResource(ctx, id, func(res *types.Resource) error {
		if name, ok := fields["name"]; ok {
			res.Name = name
		}
		if desc, ok := fields["description"]; ok {
			res.Description = desc
		}
		if status, ok := fields["status"]; ok {
			res.Status = status
		}
		return nil
	})
}

// ForceResourceState bypasses the state machine entirely. Maintenance
// escape hatch only; callers must log the override.
func (s *Store) ForceResourceState(ctx context.Context, id string, state types.State) error {
	if !state.Valid() {
		return types.Validationf("state %q is not in the lifecycle vocabulary", state)
	}
	return s.mutateResource(ctx, id, func(res *types.Resource) error {
		res.State = state
		return nil
	})
}

// mutateResource applies fn to a resource row inside one transaction
// and refreshes the index entry.
func (s *Store) mutateResource(ctx context.Context, id string, fn func(*types.Resource) error) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var updated types.Resource
	err := s.db.Update(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketResources).Get([]byte(id))
		if data == nil {
			return &types.NotFoundError{Kind: "resource", ID: id}
		}
		var res types.Resource
		if err := json.Unmarshal(data, &res); err != nil {
			return err
		}
		if err := fn(&res); err != nil {
			return err
		}
		res.ModifiedAt = time.Now().UTC()
		updated = res
		return put(tx, bucketResources, id, res)
	})
	if err != nil {
		return err
	}

	s.index.ReplaceOrInsert(indexEntry(&updated))
	return nil
}

// CompareAndSwapState implements lifecycle.StateStore. The new state
// is written only if the stored state still equals observed; a lost
// race returns ConcurrencyConflict and leaves the row untouched.
func (s *Store) CompareAndSwapState(ctx context.Context, ref lifecycle.RecordRef, observed, next types.State) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}

	switch ref.Kind {
	case lifecycle.KindResource:
		return s.casResourceState(ref.ID, observed, next)
	case lifecycle.KindRequest:
		return s.casRequestState(ref.ID, observed, next)
	default:
		return types.Validationf("unknown record kind %q", ref.Kind)
	}
}

func (s *Store) casResourceState(id string, observed, next types.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var updated types.Resource
	err := s.db.Update(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketResources).Get([]byte(id))
		if data == nil {
			return &types.NotFoundError{Kind: "resource", ID: id}
		}
		var res types.Resource
		if err := json.Unmarshal(data, &res); err != nil {
			return err
		}
		if res.State != observed {
			return &types.ConcurrencyConflict{Kind: "resource", ID: id, Expected: observed, Actual: res.State}
		}
		res.State = next
		res.ModifiedAt = time.Now().UTC()
		updated = res
		return put(tx, bucketResources, id, res)
	})
	if err != nil {
		return err
	}

	s.index.ReplaceOrInsert(indexEntry(&updated))
	return nil
}
