package wait

import (
	"testing"
	"time"

	"github.com/kode4food/caravan/topic"

	"github.com/kode4food/cascade/pkg/api"
	"github.com/kode4food/cascade/pkg/util"
)

type (
	// Wait reads execution snapshots from a consumer until one matches
	Wait struct {
		t        *testing.T
		consumer topic.Consumer[*api.Execution]
		timeout  time.Duration
	}

	// Predicate tests a single value
	Predicate[T any] func(T) bool

	// ExecutionFilter matches execution snapshots
	ExecutionFilter Predicate[*api.Execution]
)

const DefaultTimeout = time.Second * 5

func On(t *testing.T, consumer topic.Consumer[*api.Execution]) *Wait {
	return &Wait{
		t:        t,
		consumer: consumer,
		timeout:  DefaultTimeout,
	}
}

func (w *Wait) WithTimeout(timeout time.Duration) *Wait {
	res := *w
	res.timeout = timeout
	return &res
}

// ForExecutions waits for count matching snapshots and returns the last one
func (w *Wait) ForExecutions(count int, filter ExecutionFilter) *api.Execution {
	w.t.Helper()

	deadline := time.NewTimer(w.timeout)
	defer deadline.Stop()

	var last *api.Execution
	for seen := 0; seen < count; {
		select {
		case e, ok := <-w.consumer.Receive():
			if !ok {
				w.t.Fatalf(
					"execution consumer closed before receiving %d", count,
				)
			}
			if !filter(e) {
				continue
			}
			last = e
			seen++
		case <-deadline.C:
			w.t.Fatalf("timeout waiting for %d executions", count)
		}
	}
	return last
}

// ForExecution waits for a single matching snapshot
func (w *Wait) ForExecution(filter ExecutionFilter) *api.Execution {
	w.t.Helper()
	return w.ForExecutions(1, filter)
}

// And composes filters and returns true when all match
func And(filters ...ExecutionFilter) ExecutionFilter {
	return func(e *api.Execution) bool {
		for _, filter := range filters {
			if !filter(e) {
				return false
			}
		}
		return true
	}
}

// ExecutionID matches snapshots of the provided execution
func ExecutionID(id string) ExecutionFilter {
	return func(e *api.Execution) bool {
		return e != nil && e.ID == id
	}
}

// FlowID matches snapshots of executions of the provided flow
func FlowID(namespace, id string) ExecutionFilter {
	return func(e *api.Execution) bool {
		return e != nil && e.Namespace == namespace && e.FlowID == id
	}
}

// States matches snapshots whose execution is in one of the states
func States(states ...api.StateType) ExecutionFilter {
	lookup := util.SetOf(states...)
	return func(e *api.Execution) bool {
		return e != nil && lookup.Contains(e.State.Current)
	}
}

// Terminated matches snapshots of terminated executions
func Terminated() ExecutionFilter {
	return func(e *api.Execution) bool {
		return e != nil && e.State.IsTerminated()
	}
}

// TaskRunState matches snapshots holding a task run of the task in the
// provided state
func TaskRunState(taskID string, st api.StateType) ExecutionFilter {
	return func(e *api.Execution) bool {
		if e == nil {
			return false
		}
		for _, tr := range e.FindTaskRunsByTaskID(taskID) {
			if tr.State.Current == st {
				return true
			}
		}
		return false
	}
}

// Done matches the snapshot of the provided execution once it is
// terminated and every task run, listeners included, has terminated
func Done(id string) ExecutionFilter {
	return And(ExecutionID(id), Terminated(), func(e *api.Execution) bool {
		return e.FindLastNotTerminated() == nil
	})
}
