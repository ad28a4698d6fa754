package reconciler

import (
	"sort"

	"github.com/yairfalse/ohjaamo/backend"
	"github.com/yairfalse/ohjaamo/types"
)

// Local is the storage-agnostic view of one local record that the
// diff core operates on. Resource and component passes both project
// into it.
type Local struct {
	ID          string
	BackendID   string
	State       types.State
	Name        string
	Description string
	Status      string
}

// Patch carries the trackable-field updates for one local record.
// The lifecycle state is never part of a patch.
type Patch struct {
	LocalID   string
	BackendID string
	Fields    map[string]string
}

// Changes is the outcome of diffing a backend listing against local
// records.
type Changes struct {
	Additions []backend.Record
	Removals  []Local
	Updates   []Patch
}

// Empty reports whether the diff found nothing to converge.
func (c Changes) Empty() bool {
	return len(c.Additions) == 0 && len(c.Removals) == 0 && len(c.Updates) == 0
}

// Diff computes the convergence set between what the backend reports
// and what is recorded locally. Removals are restricted to records in
// a terminal state: rows in CREATING, CREATION_SCHEDULED, DELETING,
// or DELETION_SCHEDULED may still have an executor working on them
// and are never deleted by reconciliation. Output ordering is
// deterministic.
func Diff(backendSet map[string]backend.Record, localSet map[string]Local) Changes {
	var changes Changes

	for backendID, rec := range backendSet {
		if _, exists := localSet[backendID]; !exists {
			changes.Additions = append(changes.Additions, rec)
		}
	}

	for backendID, local := range localSet {
		if _, exists := backendSet[backendID]; exists {
			continue
		}
		if !local.State.Terminal() {
			continue
		}
		changes.Removals = append(changes.Removals, local)
	}

	for backendID, local := range localSet {
		rec, exists := backendSet[backendID]
		if !exists {
			continue
		}
		if fields := trackableDrift(local, rec); len(fields) > 0 {
			changes.Updates = append(changes.Updates, Patch{
				LocalID:   local.ID,
				BackendID: backendID,
				Fields:    fields,
			})
		}
	}

	sort.Slice(changes.Additions, func(i, j int) bool {
		return changes.Additions[i].BackendID < changes.Additions[j].BackendID
	})
	sort.Slice(changes.Removals, func(i, j int) bool {
		return changes.Removals[i].BackendID < changes.Removals[j].BackendID
	})
	sort.Slice(changes.Updates, func(i, j int) bool {
		return changes.Updates[i].BackendID < changes.Updates[j].BackendID
	})

	return changes
}

// trackableDrift returns the trackable fields whose backend value
// differs from the local one.
func trackableDrift(local Local, rec backend.Record) map[string]string {
	fields := make(map[string]string)
	if local.Name != rec.Name {
		fields["name"] = rec.Name
	}
	if local.Description != rec.Description {
		fields["description"] = rec.Description
	}
	if local.Status != rec.Status {
		fields["status"] = rec.Status
	}
	if len(fields) == 0 {
		return nil
	}
	return fields
}
