package store

import (
	"context"
	"encoding/json"
	"time"

	"go.etcd.io/bbolt"

	"github.com/yairfalse/ohjaamo/types"
)

// CreateComponent inserts a component row under its parent resource.
func (s *Store) CreateComponent(ctx context.Context, comp types.Component) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	if comp.ID == "" || comp.ResourceID == "" || comp.Type == "" {
		return types.Validationf("component needs id, resource id, and type")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	comp.CreatedAt = now
	comp.ModifiedAt = now

	return s.db.Update(func(tx *bbolt.Tx) error {
		if tx.Bucket(bucketComponents).Get([]byte(comp.ID)) != nil {
			return types.Validationf("component %s already exists", comp.ID)
		}
		return put(tx, bucketComponents, comp.ID, comp)
	})
}

// DeleteComponent removes a component row.
func (s *Store) DeleteComponent(ctx context.Context, id string) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketComponents)
		if bucket.Get([]byte(id)) == nil {
			return &types.NotFoundError{Kind: "component", ID: id}
		}
		return bucket.Delete([]byte(id))
	})
}

// ComponentsByResource returns a resource's components of one type
// keyed by backend ID. Components without a backend ID are excluded,
// mirroring the resource-level reconciliation contract.
func (s *Store) ComponentsByResource(ctx context.Context, resourceID string, entity types.EntityType) (map[string]types.Component, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]types.Component)
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketComponents).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var comp types.Component
			if err := json.Unmarshal(v, &comp); err != nil {
				return err
			}
			if comp.ResourceID != resourceID || comp.Type != entity {
				continue
			}
			if comp.BackendID == "" {
				continue
			}
			out[comp.BackendID] = comp
		}
		return nil
	})
	return out, err
}

// PatchComponentFields updates trackable fields on a component. The
// lifecycle state is not reachable here.
func (s *Store) PatchComponentFields(ctx context.Context, id string, fields map[string]string) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.Update(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketComponents).Get([]byte(id))
		if data == nil {
			return &types.NotFoundError{Kind: "component", ID: id}
		}
		var comp types.Component
		if err := json.Unmarshal(data, &comp); err != nil {
			return err
		}
		if name, ok := fields["name"]; ok {
			comp.Name = name
		}
		if desc, ok := fields["description"]; ok {
			comp.Description = desc
		}
		if status, ok := fields["status"]; ok {
			comp.Status = status
		}
		comp.ModifiedAt = time.Now().UTC()
		return put(tx, bucketComponents, id, comp)
	})
}
