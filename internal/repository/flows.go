// Package repository holds flow definitions in process memory, and indexes
// executions and their logs either in memory or in a timebox event store
package repository

import (
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/kode4food/cascade/pkg/api"
)

// Flows stores every revision of every flow and serves as the engine's
// FlowProvider
type Flows struct {
	mu    sync.RWMutex
	flows map[string][]*api.Flow
}

var _ api.FlowProvider = (*Flows)(nil)

// NewFlows creates a Flows repository holding the provided flows
func NewFlows(flows ...*api.Flow) (*Flows, error) {
	res := &Flows{flows: map[string][]*api.Flow{}}
	for _, f := range flows {
		if _, err := res.Add(f); err != nil {
			return nil, err
		}
	}
	return res, nil
}

// Add stores a flow revision. A flow without a revision is given the next
// one. Adding an existing revision replaces it
func (r *Flows) Add(f *api.Flow) (*api.Flow, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	uid := f.UID()
	revs := r.flows[uid]
	if f.Revision == 0 {
		res := *f
		res.Revision = 1
		if len(revs) > 0 {
			res.Revision = revs[len(revs)-1].Revision + 1
		}
		f = &res
	}

	idx, found := slices.BinarySearchFunc(revs, f.Revision,
		func(e *api.Flow, rev int) int { return e.Revision - rev },
	)
	if found {
		revs[idx] = f
	} else {
		revs = slices.Insert(revs, idx, f)
	}
	r.flows[uid] = revs
	return f, nil
}

// FindByID returns the requested revision of a flow, or its latest
// revision when none is requested
func (r *Flows) FindByID(
	namespace, id string, revision *int,
) (*api.Flow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	revs := r.flows[namespace+"."+id]
	if len(revs) == 0 {
		return nil, fmt.Errorf("%w: %s.%s", api.ErrFlowNotFound, namespace, id)
	}
	if revision == nil {
		return revs[len(revs)-1], nil
	}
	for _, f := range revs {
		if f.Revision == *revision {
			return f, nil
		}
	}
	return nil, fmt.Errorf("%w: %s.%s revision %d",
		api.ErrFlowNotFound, namespace, id, *revision)
}

// FindByExecution returns the flow revision the execution was created from
func (r *Flows) FindByExecution(e *api.Execution) (*api.Flow, error) {
	if e.FlowRevision == 0 {
		return r.FindByID(e.Namespace, e.FlowID, nil)
	}
	rev := e.FlowRevision
	return r.FindByID(e.Namespace, e.FlowID, &rev)
}

// FindAll returns the latest revision of every flow, ordered by uid
func (r *Flows) FindAll() []*api.Flow {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res := make([]*api.Flow, 0, len(r.flows))
	for _, uid := range slices.Sorted(maps.Keys(r.flows)) {
		revs := r.flows[uid]
		res = append(res, revs[len(revs)-1])
	}
	return res
}
