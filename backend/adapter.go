// Package backend defines the capability contract every downstream
// system must expose: list, get, create, update, delete for one entity
// type. Adapters are registered per entity type through factories.
package backend

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/yairfalse/ohjaamo/types"
)

// Record is what a backend reports about one of its objects.
type Record struct {
	BackendID   string            `json:"backend_id"`
	Name        string            `json:"name,omitempty"`
	Description string            `json:"description,omitempty"`
	Status      string            `json:"status,omitempty"`
	ParentID    string            `json:"parent_id,omitempty"`
	Attrs       map[string]string `json:"attrs,omitempty"`
}

// CreateSpec describes the object a create call should provision.
type CreateSpec struct {
	Type        types.EntityType  `json:"type"`
	ScopeID     string            `json:"scope_id"`
	Name        string            `json:"name,omitempty"`
	Description string            `json:"description,omitempty"`
	ParentID    string            `json:"parent_id,omitempty"`
	Attrs       map[string]string `json:"attrs,omitempty"`
}

// Adapter is implemented once per (downstream system, entity type).
// Calls may block on network I/O; callers apply timeouts via ctx.
type Adapter interface {
	List(ctx context.Context, scopeID string) ([]Record, error)
	Get(ctx context.Context, backendID string) (*Record, error)
	Create(ctx context.Context, spec CreateSpec) (string, error)
	Update(ctx context.Context, backendID string, fields map[string]string) error
	Delete(ctx context.Context, backendID string) error
}

// Config carries backend connection settings to factories.
type Config struct {
	Region  string
	Profile string
}

// Factory builds an adapter for one entity type.
type Factory func(ctx context.Context, cfg Config) (Adapter, error)

var (
	mu        sync.RWMutex
	factories = make(map[types.EntityType]Factory)
)

// Register registers an adapter factory for an entity type.
func Register(entity types.EntityType, factory Factory) {
	mu.Lock()
	defer mu.Unlock()
	factories[entity] = factory
}

// Registry holds instantiated adapters keyed by entity type.
type Registry struct {
	adapters map[types.EntityType]Adapter
}

// NewRegistry instantiates adapters for the given entity types from
// their registered factories.
func NewRegistry(ctx context.Context, cfg Config, entities []types.EntityType) (*Registry, error) {
	mu.RLock()
	defer mu.RUnlock()

	reg := &Registry{adapters: make(map[types.EntityType]Adapter, len(entities))}
	for _, entity := range entities {
		factory, ok := factories[entity]
		if !ok {
			return nil, fmt.Errorf("no adapter registered for entity type %s", entity)
		}
		adapter, err := factory(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("build adapter for %s: %w", entity, err)
		}
		reg.adapters[entity] = adapter
	}
	return reg, nil
}

// NewStaticRegistry wraps pre-built adapters, mainly for tests.
func NewStaticRegistry(adapters map[types.EntityType]Adapter) *Registry {
	return &Registry{adapters: adapters}
}

// Adapter returns the adapter for an entity type.
func (r *Registry) Adapter(entity types.EntityType) (Adapter, error) {
	adapter, ok := r.adapters[entity]
	if !ok {
		return nil, &types.NotFoundError{Kind: "adapter", ID: string(entity)}
	}
	return adapter, nil
}

// Entities returns the entity types this registry serves, sorted.
func (r *Registry) Entities() []types.EntityType {
	entities := make([]types.EntityType, 0, len(r.adapters))
	for entity := range r.adapters {
		entities = append(entities, entity)
	}
	sort.Slice(entities, func(i, j int) bool { return entities[i] < entities[j] })
	return entities
}
