package types

import (
	"encoding/json"
	"time"
)

// EntityType identifies a kind of provisioned object.
type EntityType string

const (
	TypeTenant        EntityType = "tenant"
	TypeNetwork       EntityType = "network"
	TypeSubnet        EntityType = "subnet"
	TypeSecurityGroup EntityType = "security_group"
	TypeFloatingIP    EntityType = "floating_ip"
	TypeVirtualEnv    EntityType = "virtual_env"
)

// Resource is a provisioned infrastructure object tracked locally.
// BackendID stays empty until the first successful backend create call
// and is immutable afterwards.
type Resource struct {
	ID           string     `json:"id"`
	BackendID    string     `json:"backend_id,omitempty"`
	Type         EntityType `json:"type"`
	Scope        ScopeRef   `json:"scope"`
	State        State      `json:"state"`
	Name         string     `json:"name,omitempty"`
	Description  string     `json:"description,omitempty"`
	Status       string     `json:"status,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	ErrorDetail  string     `json:"error_detail,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	ModifiedAt   time.Time  `json:"modified_at"`
}

// Request records one attempted mutating operation against a Resource
// or a named component of it. Requests are append-only history.
type Request struct {
	ID           string            `json:"id"`
	ResourceID   string            `json:"resource_id"`
	ComponentKey string            `json:"component_key,omitempty"`
	Category     Category          `json:"category"`
	State        State             `json:"state"`
	Args         map[string]string `json:"args,omitempty"`
	Plan         json.RawMessage   `json:"plan,omitempty"`
	Output       string            `json:"output,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	ModifiedAt   time.Time         `json:"modified_at"`
}

// Open reports whether the request is still occupying its scope.
func (r *Request) Open() bool {
	return !r.State.Terminal()
}

// Component is a child entity owned by a Resource (a rule, a subnet
// association, an installed library), identified within the resource
// by its backend ID once known.
type Component struct {
	ID          string     `json:"id"`
	ResourceID  string     `json:"resource_id"`
	BackendID   string     `json:"backend_id"`
	Type        EntityType `json:"type"`
	State       State      `json:"state"`
	Name        string     `json:"name,omitempty"`
	Description string     `json:"description,omitempty"`
	Status      string     `json:"status,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	ModifiedAt  time.Time  `json:"modified_at"`
}

// Category is the operation kind of a Request.
type Category string

const (
	CategoryCreate     Category = "create"
	CategoryUpdate     Category = "update"
	CategoryDelete     Category = "delete"
	CategoryConfigSync Category = "config_sync"

	// Component-scoped categories lock only their component key.
	CategoryComponentCreate Category = "component_create"
	CategoryComponentUpdate Category = "component_update"
	CategoryComponentDelete Category = "component_delete"
)

// ResourceWide reports whether requests of this category lock the whole
// resource rather than a single component key.
func (c Category) ResourceWide() bool {
	switch c {
	case CategoryComponentCreate, CategoryComponentUpdate, CategoryComponentDelete:
		return false
	default:
		return true
	}
}

// Destructive reports whether the category removes backend objects.
func (c Category) Destructive() bool {
	return c == CategoryDelete || c == CategoryComponentDelete
}

// Known reports whether the category is part of the closed set.
func (c Category) Known() bool {
	switch c {
	case CategoryCreate, CategoryUpdate, CategoryDelete, CategoryConfigSync,
		CategoryComponentCreate, CategoryComponentUpdate, CategoryComponentDelete:
		return true
	}
	return false
}
