// Package store persists Resource, Request, and Component rows in
// bbolt and keeps an in-memory btree index over resources for fast
// scope and type lookups. All state transitions go through the
// compare-and-swap contract; the store never decides transitions.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/btree"
	"go.etcd.io/bbolt"

	"github.com/yairfalse/ohjaamo/types"
)

var (
	bucketResources  = []byte("resources")
	bucketRequests   = []byte("requests")
	bucketComponents = []byte("components")
	bucketMeta       = []byte("meta")
)

// resourceEntry is the index projection of a resource row.
type resourceEntry struct {
	ID        string
	ScopeID   string
	Type      types.EntityType
	State     types.State
	BackendID string
}

// Store is the record store shared by the coordinator, executor, and
// reconciler. Cross-process safety for state fields comes from the
// compare-and-swap contract, not from this mutex.
type Store struct {
	mu    sync.RWMutex
	db    *bbolt.DB
	index *btree.BTreeG[*resourceEntry]
	dir   string
}

// Open creates or opens a store in the given directory.
func Open(dir string) (*Store, error) {
	dbPath := filepath.Join(dir, "ohjaamo.db")

	db, err := bbolt.Open(dbPath, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		if errors.Is(err, bbolt.ErrTimeout) {
			return nil, fmt.Errorf("store at %s is in use by another process", dir)
		}
		return nil, fmt.Errorf("open database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, bucket := range [][]byte{bucketResources, bucketRequests, bucketComponents, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create buckets: %w", err)
	}

	s := &Store{
		db: db,
		index: btree.NewG[*resourceEntry](32, func(a, b *resourceEntry) bool {
			return a.ID < b.ID
		}),
		dir: dir,
	}

	if err := s.rebuildIndex(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("rebuild index: %w", err)
	}

	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// rebuildIndex scans the resources bucket and repopulates the btree.
func (s *Store) rebuildIndex() error {
	return s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketResources).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var res types.Resource
			if err := json.Unmarshal(v, &res); err != nil {
				return fmt.Errorf("decode resource %s: %w", k, err)
			}
			s.index.ReplaceOrInsert(indexEntry(&res))
		}
		return nil
	})
}

func indexEntry(res *types.Resource) *resourceEntry {
	return &resourceEntry{
		ID:        res.ID,
		ScopeID:   res.Scope.ID,
		Type:      res.Type,
		State:     res.State,
		BackendID: res.BackendID,
	}
}

// put marshals a value into a bucket under key within tx.
func put(tx *bbolt.Tx, bucket []byte, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return tx.Bucket(bucket).Put([]byte(key), data)
}

// ctxErr short-circuits store calls on an already-cancelled context.
func ctxErr(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}
