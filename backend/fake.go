package backend

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/yairfalse/ohjaamo/types"
)

// Fake is an in-memory adapter for tests and local runs. It can be
// told to fail specific calls to exercise error paths.
type Fake struct {
	mu      sync.Mutex
	records map[string]Record // backend_id -> record
	scopes  map[string]string // backend_id -> scope_id

	FailCreate error
	FailUpdate error
	FailDelete error
	FailList   error

	CreateCalls int
	DeleteCalls int
}

// NewFake creates an empty fake backend.
func NewFake() *Fake {
	return &Fake{
		records: make(map[string]Record),
		scopes:  make(map[string]string),
	}
}

// Seed inserts a record directly, bypassing Create.
func (f *Fake) Seed(scopeID string, rec Record) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records[rec.BackendID] = rec
	f.scopes[rec.BackendID] = scopeID
}

// Remove drops a record directly, simulating out-of-band deletion.
func (f *Fake) Remove(backendID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.records, backendID)
	delete(f.scopes, backendID)
}

func (f *Fake) List(ctx context.Context, scopeID string) ([]Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailList != nil {
		return nil, f.FailList
	}
	var out []Record
	for id, rec := range f.records {
		if f.scopes[id] == scopeID {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (f *Fake) Get(ctx context.Context, backendID string) (*Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[backendID]
	if !ok {
		return nil, &types.NotFoundError{Kind: "backend record", ID: backendID}
	}
	return &rec, nil
}

func (f *Fake) Create(ctx context.Context, spec CreateSpec) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.CreateCalls++
	if f.FailCreate != nil {
		return "", f.FailCreate
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	backendID := fmt.Sprintf("%s-%s", spec.Type, uuid.NewString()[:8])
	f.records[backendID] = Record{
		BackendID:   backendID,
		Name:        spec.Name,
		Description: spec.Description,
		ParentID:    spec.ParentID,
		Status:      "ACTIVE",
		Attrs:       spec.Attrs,
	}
	f.scopes[backendID] = spec.ScopeID
	return backendID, nil
}

func (f *Fake) Update(ctx context.Context, backendID string, fields map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailUpdate != nil {
		return f.FailUpdate
	}
	rec, ok := f.records[backendID]
	if !ok {
		return &types.NotFoundError{Kind: "backend record", ID: backendID}
	}
	if name, ok := fields["name"]; ok {
		rec.Name = name
	}
	if desc, ok := fields["description"]; ok {
		rec.Description = desc
	}
	if status, ok := fields["status"]; ok {
		rec.Status = status
	}
	f.records[backendID] = rec
	return nil
}

func (f *Fake) Delete(ctx context.Context, backendID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.DeleteCalls++
	if f.FailDelete != nil {
		return f.FailDelete
	}
	if _, ok := f.records[backendID]; !ok {
		return &types.NotFoundError{Kind: "backend record", ID: backendID}
	}
	delete(f.records, backendID)
	delete(f.scopes, backendID)
	return nil
}
