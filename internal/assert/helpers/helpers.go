package helpers

import (
	"context"
	"testing"

	"github.com/kode4food/caravan/topic"
	"github.com/stretchr/testify/require"

	"github.com/kode4food/cascade/internal/assert/wait"
	"github.com/kode4food/cascade/internal/parser"
	"github.com/kode4food/cascade/pkg/api"
)

// ParseFlow parses a YAML flow definition, failing the test on error
func ParseFlow(t *testing.T, doc string) *api.Flow {
	t.Helper()
	f, err := parser.Parse([]byte(doc))
	require.NoError(t, err)
	return f
}

// Subscribe returns a consumer of every execution snapshot published from
// now on. It is closed when the test ends
func (env *TestEnv) Subscribe(t *testing.T) topic.Consumer[*api.Execution] {
	t.Helper()
	cons := env.Queues.Executions.Subscribe()
	t.Cleanup(cons.Close)
	return cons
}

// Submit creates an execution of the flow and publishes it
func (env *TestEnv) Submit(
	t *testing.T, f *api.Flow, inputs map[string]any,
) *api.Execution {
	t.Helper()
	resolved, err := f.ResolveInputs(inputs)
	require.NoError(t, err)
	e := api.NewExecution(f, resolved, nil)
	env.Queues.Executions.Emit(e)
	return e
}

// Run submits an execution of the flow and waits for it to be done,
// listeners included
func (env *TestEnv) Run(
	t *testing.T, f *api.Flow, inputs map[string]any,
) *api.Execution {
	t.Helper()
	cons := env.Subscribe(t)
	e := env.Submit(t, f, inputs)
	return wait.On(t, cons).ForExecution(env.Done(f, e.ID))
}

// Done matches the snapshot of the provided execution once it is done and
// the flow's valid listeners have run to completion
func (env *TestEnv) Done(f *api.Flow, id string) wait.ExecutionFilter {
	return wait.And(wait.Done(id), func(e *api.Execution) bool {
		return env.Triggers.IsTerminatedWithListeners(
			context.Background(), f, e,
		)
	})
}

// TaskRun returns the only task run of the task, failing the test if there
// isn't exactly one
func TaskRun(t *testing.T, e *api.Execution, taskID string) *api.TaskRun {
	t.Helper()
	trs := e.FindTaskRunsByTaskID(taskID)
	require.Len(t, trs, 1, "task runs of %s", taskID)
	return trs[0]
}

// TaskRunStates returns the current state of every task run of the task,
// in creation order
func TaskRunStates(e *api.Execution, taskID string) []api.StateType {
	var res []api.StateType
	for _, tr := range e.FindTaskRunsByTaskID(taskID) {
		res = append(res, tr.State.Current)
	}
	return res
}
