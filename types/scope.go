package types

import "fmt"

// ScopeKind discriminates the owning scope of a Resource.
type ScopeKind string

const (
	ScopeTenant  ScopeKind = "tenant"
	ScopeProject ScopeKind = "project"
)

// ScopeRef is a typed reference to the scope that owns a Resource,
// carrying an explicit discriminator instead of a polymorphic pointer.
type ScopeRef struct {
	Kind ScopeKind `json:"kind"`
	ID   string    `json:"id"`
}

// Valid reports whether the reference is complete and of a known kind.
func (s ScopeRef) Valid() bool {
	if s.ID == "" {
		return false
	}
	return s.Kind == ScopeTenant || s.Kind == ScopeProject
}

func (s ScopeRef) String() string {
	return fmt.Sprintf("%s/%s", s.Kind, s.ID)
}

// LockScope is the (resource, optional component-key) pair that the
// admission coordinator locks against.
type LockScope struct {
	ResourceID   string
	ComponentKey string
}

func (l LockScope) String() string {
	if l.ComponentKey == "" {
		return l.ResourceID
	}
	return l.ResourceID + "/" + l.ComponentKey
}
