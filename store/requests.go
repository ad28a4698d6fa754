package store

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"go.etcd.io/bbolt"

	"github.com/yairfalse/ohjaamo/types"
)

// AdmitRequest inserts a request only if the admit predicate accepts
// the snapshot of currently open requests for the same resource. The
// check and the insert happen in one transaction, so two racing
// admissions cannot both pass.
func (s *Store) AdmitRequest(ctx context.Context, req types.Request, admit func(open []types.Request) error) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	if req.ID == "" || req.ResourceID == "" {
		return types.Validationf("request needs id and resource id")
	}
	if !req.State.Valid() {
		return types.Validationf("request state %q is not in the lifecycle vocabulary", req.State)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	req.CreatedAt = now
	req.ModifiedAt = now

	return s.db.Update(func(tx *bbolt.Tx) error {
		open, err := scanRequests(tx, req.ResourceID, true)
		if err != nil {
			return err
		}
		if err := admit(open); err != nil {
			return err
		}
		return put(tx, bucketRequests, req.ID, req)
	})
}

// GetRequest loads one request row.
func (s *Store) GetRequest(ctx context.Context, id string) (*types.Request, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var req types.Request
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketRequests).Get([]byte(id))
		if data == nil {
			return &types.NotFoundError{Kind: "request", ID: id}
		}
		return json.Unmarshal(data, &req)
	})
	if err != nil {
		return nil, err
	}
	return &req, nil
}

// RequestsForResource returns the full request history for a
// resource, newest first.
func (s *Store) RequestsForResource(ctx context.Context, resourceID string) ([]types.Request, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []types.Request
	err := s.db.View(func(tx *bbolt.Tx) error {
		var err error
		out, err = scanRequests(tx, resourceID, false)
		return err
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// OpenRequests returns the non-terminal requests for a resource.
func (s *Store) OpenRequests(ctx context.Context, resourceID string) ([]types.Request, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []types.Request
	err := s.db.View(func(tx *bbolt.Tx) error {
		var err error
		out, err = scanRequests(tx, resourceID, true)
		return err
	})
	return out, err
}

// AllOpenRequests returns every non-terminal request across all
// resources, oldest first. The daemon sweep uses it to pick up
// requests admitted with no waiting client or left mid-plan by a
// crash.
func (s *Store) AllOpenRequests(ctx context.Context) ([]types.Request, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []types.Request
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketRequests).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var req types.Request
			if err := json.Unmarshal(v, &req); err != nil {
				return err
			}
			if req.Open() {
				out = append(out, req)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// SetRequestPlan persists the step plan onto the request so execution
// can resume after a restart.
func (s *Store) SetRequestPlan(ctx context.Context, id string, plan json.RawMessage) error {
	return s.mutateRequest(ctx, id, func(req *types.Request) error {
		req.Plan = plan
		return nil
	})
}

// AppendRequestOutput appends one line to the request's output blob.
func (s *Store) AppendRequestOutput(ctx context.Context, id, line string) error {
	return s.mutateRequest(ctx, id, func(req *types.Request) error {
		if req.Output == "" {
			req.Output = line
		} else {
			req.Output += "\n" + line
		}
		return nil
	})
}

func (s *Store) mutateRequest(ctx context.Context, id string, fn func(*types.Request) error) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.Update(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketRequests).Get([]byte(id))
		if data == nil {
			return &types.NotFoundError{Kind: "request", ID: id}
		}
		var req types.Request
		if err := json.Unmarshal(data, &req); err != nil {
			return err
		}
		if err := fn(&req); err != nil {
			return err
		}
		req.ModifiedAt = time.Now().UTC()
		return put(tx, bucketRequests, id, req)
	})
}

func (s *Store) casRequestState(id string, observed, next types.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.Update(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketRequests).Get([]byte(id))
		if data == nil {
			return &types.NotFoundError{Kind: "request", ID: id}
		}
		var req types.Request
		if err := json.Unmarshal(data, &req); err != nil {
			return err
		}
		if req.State != observed {
			return &types.ConcurrencyConflict{Kind: "request", ID: id, Expected: observed, Actual: req.State}
		}
		req.State = next
		req.ModifiedAt = time.Now().UTC()
		return put(tx, bucketRequests, id, req)
	})
}

// scanRequests walks the requests bucket filtering by resource, and
// by openness when openOnly is set.
func scanRequests(tx *bbolt.Tx, resourceID string, openOnly bool) ([]types.Request, error) {
	var out []types.Request
	c := tx.Bucket(bucketRequests).Cursor()
	for k, v := c.First(); k != nil; k, v = c.Next() {
		var req types.Request
		if err := json.Unmarshal(v, &req); err != nil {
			return nil, err
		}
		if req.ResourceID != resourceID {
			continue
		}
		if openOnly && !req.Open() {
			continue
		}
		out = append(out, req)
	}
	return out, nil
}
