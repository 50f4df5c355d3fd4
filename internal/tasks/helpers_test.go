package tasks_test

import (
	"maps"
	"slices"

	"github.com/kode4food/cascade/internal/runner"
	"github.com/kode4food/cascade/internal/tasks"
	"github.com/kode4food/cascade/pkg/api"
)

type flowMap map[string]*api.Flow

func (m flowMap) FindByID(ns, id string, _ *int) (*api.Flow, error) {
	f, ok := m[ns+"."+id]
	if !ok {
		return nil, api.ErrFlowNotFound
	}
	return f, nil
}

func (m flowMap) FindByExecution(e *api.Execution) (*api.Flow, error) {
	return m.FindByID(e.Namespace, e.FlowID, nil)
}

func (m flowMap) FindAll() []*api.Flow {
	return slices.Collect(maps.Values(m))
}

func ret(id string) *tasks.Return {
	return &tasks.Return{
		Base:   tasks.Base{ID: id, Type: tasks.TypeReturn},
		Format: id,
	}
}

func testFlow(ts ...api.Task) *api.Flow {
	return &api.Flow{ID: "flow", Namespace: "io.test", Tasks: ts}
}

// startParent adds a RUNNING task run for the container to a new execution
// and returns a RunContext bound to it
func startParent(
	f *api.Flow, container api.Task, inputs map[string]any,
) (*api.Execution, *api.TaskRun) {
	e := api.NewExecution(f, inputs, nil).WithState(api.StateRunning)
	parent := api.ResolvedTasksOf([]api.Task{container})[0].ToTaskRun(e)
	parent = parent.WithState(api.StateRunning)
	return e.WithNewTaskRuns(parent), parent
}

func contextFor(
	f *api.Flow, e *api.Execution, tr *api.TaskRun, p api.FlowProvider,
) *runner.RunContext {
	return runner.NewRunContext(f, e, p).ForTaskRun(tr)
}

// complete records a terminated task run for every next
func complete(
	e *api.Execution, nexts []*api.TaskRun, st api.StateType,
) *api.Execution {
	for _, tr := range nexts {
		tr.State = api.NewStateOf(st)
		e = e.WithNewTaskRuns(tr)
	}
	return e
}
