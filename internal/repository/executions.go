package repository

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/kode4food/cascade/pkg/api"
)

type (
	// ExecutionStore indexes the snapshots the executor emits
	ExecutionStore interface {
		Save(ctx context.Context, e *api.Execution) error
		FindByID(ctx context.Context, id string) (*api.Execution, error)
		FindAll(ctx context.Context) ([]*api.Execution, error)
		FindByFlow(
			ctx context.Context, namespace, flowID string,
		) ([]*api.Execution, error)
	}

	// LogStore indexes the log entries of executions
	LogStore interface {
		Append(ctx context.Context, l *api.LogEntry) error
		FindByExecution(
			ctx context.Context, id string,
		) ([]*api.LogEntry, error)
	}

	// Executions keeps the last emitted snapshot of every execution
	Executions struct {
		mu    sync.RWMutex
		byID  map[string]*api.Execution
		order []string
	}

	// Logs keeps the log entries of every execution, in arrival order
	Logs struct {
		mu   sync.RWMutex
		byID map[string][]*api.LogEntry
	}
)

var ErrExecutionNotFound = errors.New("execution not found")

var (
	_ ExecutionStore = (*Executions)(nil)
	_ LogStore       = (*Logs)(nil)
)

// NewExecutions creates an empty Executions repository
func NewExecutions() *Executions {
	return &Executions{byID: map[string]*api.Execution{}}
}

// Save stores the snapshot, replacing any previous one with the same id
func (r *Executions) Save(_ context.Context, e *api.Execution) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[e.ID]; !ok {
		r.order = append(r.order, e.ID)
	}
	r.byID[e.ID] = e
	return nil
}

// FindByID returns the last snapshot of an execution
func (r *Executions) FindByID(
	_ context.Context, id string,
) (*api.Execution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrExecutionNotFound, id)
	}
	return e, nil
}

// FindAll returns every execution in the order first seen
func (r *Executions) FindAll(context.Context) ([]*api.Execution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res := make([]*api.Execution, 0, len(r.order))
	for _, id := range r.order {
		res = append(res, r.byID[id])
	}
	return res, nil
}

// FindByFlow returns the executions of a flow in the order first seen
func (r *Executions) FindByFlow(
	ctx context.Context, namespace, flowID string,
) ([]*api.Execution, error) {
	all, err := r.FindAll(ctx)
	if err != nil {
		return nil, err
	}
	return ofFlow(all, namespace, flowID), nil
}

// NewLogs creates an empty Logs repository
func NewLogs() *Logs {
	return &Logs{byID: map[string][]*api.LogEntry{}}
}

// Append records a log entry against its execution
func (r *Logs) Append(_ context.Context, l *api.LogEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[l.ExecutionID] = append(r.byID[l.ExecutionID], l)
	return nil
}

// FindByExecution returns the log entries of an execution
func (r *Logs) FindByExecution(
	_ context.Context, id string,
) ([]*api.LogEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.byID[id]), nil
}

func ofFlow(all []*api.Execution, namespace, flowID string) []*api.Execution {
	return slices.DeleteFunc(all, func(e *api.Execution) bool {
		return e.Namespace != namespace || e.FlowID != flowID
	})
}
