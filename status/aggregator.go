// Package status derives one human-facing composite status for a
// resource from its full request history. It is read-only.
package status

import (
	"context"
	"time"

	"github.com/yairfalse/ohjaamo/types"
)

// DefaultBurstWindow groups component-scoped requests fired together
// into one logical batch. Operational tunable, not a hard invariant.
const DefaultBurstWindow = time.Minute

// History is the slice of the record store the aggregator reads.
type History interface {
	RequestsForResource(ctx context.Context, resourceID string) ([]types.Request, error)
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithBurstWindow overrides the batch grouping window.
func WithBurstWindow(d time.Duration) Option {
	return func(a *Aggregator) {
		if d > 0 {
			a.window = d
		}
	}
}

// Aggregator computes composite statuses.
type Aggregator struct {
	history History
	window  time.Duration
}

// NewAggregator creates an aggregator over a request history source.
func NewAggregator(history History, opts ...Option) *Aggregator {
	a := &Aggregator{history: history, window: DefaultBurstWindow}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Aggregate derives the composite status for a resource:
//
//  1. A non-terminal configuration sync dominates everything.
//  2. Otherwise collect the most recent request per category, keeping
//     non-terminal ones, plus the non-terminal component-scoped
//     requests from the most recent burst.
//  3. Empty collection means OK; otherwise the highest-priority state
//     wins (CREATING > CREATION_SCHEDULED > ERRED), falling back to
//     the most recent non-terminal state.
func (a *Aggregator) Aggregate(ctx context.Context, resourceID string) (types.State, error) {
	requests, err := a.history.RequestsForResource(ctx, resourceID)
	if err != nil {
		return "", err
	}
	if len(requests) == 0 {
		return types.StateOK, nil
	}

	// Requests arrive newest first.
	if sync := latestOfCategory(requests, types.CategoryConfigSync); sync != nil && sync.Open() {
		return sync.State, nil
	}

	pending := latestPerCategory(requests)
	pending = append(pending, burstRequests(requests, a.window, pending)...)

	if len(pending) == 0 {
		return types.StateOK, nil
	}
	return highestPriority(pending), nil
}

func latestOfCategory(requests []types.Request, category types.Category) *types.Request {
	for i := range requests {
		if requests[i].Category == category {
			return &requests[i]
		}
	}
	return nil
}

// latestPerCategory keeps the most recent request of each category
// other than configuration sync, filtered to non-terminal ones.
func latestPerCategory(requests []types.Request) []types.Request {
	seen := make(map[types.Category]bool)
	var pending []types.Request
	for _, req := range requests {
		if req.Category == types.CategoryConfigSync {
			continue
		}
		if seen[req.Category] {
			continue
		}
		seen[req.Category] = true
		if req.Open() {
			pending = append(pending, req)
		}
	}
	return pending
}

// burstRequests collects the non-terminal component-scoped requests
// whose creation falls within the window ending at the most recent
// request. Several component mutations fired together are treated as
// one logical batch.
func burstRequests(requests []types.Request, window time.Duration, already []types.Request) []types.Request {
	newest := requests[0].CreatedAt
	cutoff := newest.Add(-window)

	included := make(map[string]bool, len(already))
	for _, req := range already {
		included[req.ID] = true
	}

	var batch []types.Request
	for _, req := range requests {
		if req.Category.ResourceWide() {
			continue
		}
		if req.CreatedAt.Before(cutoff) || req.CreatedAt.After(newest) {
			continue
		}
		if !req.Open() || included[req.ID] {
			continue
		}
		batch = append(batch, req)
	}
	return batch
}

var priority = []types.State{
	types.StateCreating,
	types.StateCreationScheduled,
	types.StateErred,
}

func highestPriority(pending []types.Request) types.State {
	for _, state := range priority {
		for _, req := range pending {
			if req.State == state {
				return state
			}
		}
	}
	// No priority state present; the collection is non-empty and
	// newest first, so surface the most recent one.
	return pending[0].State
}
