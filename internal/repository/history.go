package repository

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/kode4food/timebox"

	"github.com/kode4food/cascade/pkg/api"
)

type (
	// History indexes executions and their logs in a timebox store. Every
	// snapshot is kept as an event on the execution's aggregate, so past
	// versions of an execution remain readable
	History struct {
		exec *timebox.Executor[*ExecutionState]
	}

	// ExecutionState is the projection of an execution aggregate: its last
	// snapshot and every log entry recorded against it
	ExecutionState struct {
		Execution *api.Execution  `json:"execution,omitempty"`
		Logs      []*api.LogEntry `json:"logs,omitempty"`
	}

	historyAggregator = timebox.Aggregator[*ExecutionState]
)

const (
	EventExecutionSaved timebox.EventType = "execution_saved"
	EventLogAppended    timebox.EventType = "log_appended"

	executionPrefix = "execution"
)

var (
	_ ExecutionStore = (*History)(nil)
	_ LogStore       = (*History)(nil)
)

var historyAppliers = timebox.Appliers[*ExecutionState]{
	EventExecutionSaved: timebox.MakeApplier(executionSaved),
	EventLogAppended:    timebox.MakeApplier(logAppended),
}

// NewHistory creates a History over the provided store
func NewHistory(store *timebox.Store) *History {
	return &History{
		exec: timebox.NewExecutor(store, newExecutionState, historyAppliers),
	}
}

// ExecutionKey returns the aggregate id an execution is recorded under
func ExecutionKey(id string) timebox.AggregateID {
	return timebox.NewAggregateID(executionPrefix, timebox.ID(id))
}

// Save records the snapshot as the latest version of its execution
func (h *History) Save(ctx context.Context, e *api.Execution) error {
	_, err := h.exec.Exec(ctx, ExecutionKey(e.ID),
		func(_ *ExecutionState, ag *historyAggregator) error {
			return timebox.Raise(ag, EventExecutionSaved, e)
		},
	)
	return err
}

// Append records a log entry against its execution
func (h *History) Append(ctx context.Context, l *api.LogEntry) error {
	_, err := h.exec.Exec(ctx, ExecutionKey(l.ExecutionID),
		func(_ *ExecutionState, ag *historyAggregator) error {
			return timebox.Raise(ag, EventLogAppended, l)
		},
	)
	return err
}

// FindByID returns the latest snapshot of an execution
func (h *History) FindByID(
	ctx context.Context, id string,
) (*api.Execution, error) {
	st, err := h.state(ctx, ExecutionKey(id))
	if err != nil {
		return nil, err
	}
	if st.Execution == nil {
		return nil, fmt.Errorf("%w: %s", ErrExecutionNotFound, id)
	}
	return st.Execution, nil
}

// FindAll returns the latest snapshot of every execution, oldest first
func (h *History) FindAll(ctx context.Context) ([]*api.Execution, error) {
	ids, err := h.exec.GetStore().ListAggregates(ctx, ExecutionKey("*"))
	if err != nil {
		return nil, err
	}

	res := make([]*api.Execution, 0, len(ids))
	for _, id := range ids {
		if len(id) < 2 || id[0] != executionPrefix {
			continue
		}
		st, err := h.state(ctx, id)
		if err != nil {
			return nil, err
		}
		if st.Execution != nil {
			res = append(res, st.Execution)
		}
	}
	slices.SortStableFunc(res, func(l, r *api.Execution) int {
		if c := l.State.StartDate().Compare(r.State.StartDate()); c != 0 {
			return c
		}
		return cmp.Compare(l.ID, r.ID)
	})
	return res, nil
}

// FindByFlow returns the latest snapshot of every execution of a flow,
// oldest first
func (h *History) FindByFlow(
	ctx context.Context, namespace, flowID string,
) ([]*api.Execution, error) {
	all, err := h.FindAll(ctx)
	if err != nil {
		return nil, err
	}
	return ofFlow(all, namespace, flowID), nil
}

// FindByExecution returns the log entries of an execution in the order
// they were recorded
func (h *History) FindByExecution(
	ctx context.Context, id string,
) ([]*api.LogEntry, error) {
	st, err := h.state(ctx, ExecutionKey(id))
	if err != nil {
		return nil, err
	}
	return slices.Clone(st.Logs), nil
}

// Versions returns every snapshot recorded for an execution, oldest first
func (h *History) Versions(
	ctx context.Context, id string,
) ([]*api.Execution, error) {
	evs, err := h.exec.GetStore().GetEvents(ctx, ExecutionKey(id), 0)
	if err != nil {
		return nil, err
	}

	var res []*api.Execution
	for _, ev := range evs {
		if ev.Type != EventExecutionSaved {
			continue
		}
		var e api.Execution
		if err := json.Unmarshal(ev.Data, &e); err != nil {
			return nil, err
		}
		res = append(res, &e)
	}
	if len(res) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrExecutionNotFound, id)
	}
	return res, nil
}

func (h *History) state(
	ctx context.Context, id timebox.AggregateID,
) (*ExecutionState, error) {
	return h.exec.Exec(ctx, id,
		func(*ExecutionState, *historyAggregator) error {
			return nil
		},
	)
}

func newExecutionState() *ExecutionState {
	return &ExecutionState{}
}

func executionSaved(
	st *ExecutionState, _ *timebox.Event, data api.Execution,
) *ExecutionState {
	return &ExecutionState{
		Execution: &data,
		Logs:      st.Logs,
	}
}

func logAppended(
	st *ExecutionState, _ *timebox.Event, data api.LogEntry,
) *ExecutionState {
	return &ExecutionState{
		Execution: st.Execution,
		Logs:      append(slices.Clone(st.Logs), &data),
	}
}
