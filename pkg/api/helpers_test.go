package api_test

import "github.com/kode4food/cascade/pkg/api"

type (
	stubTask struct {
		id       string
		disabled bool
	}

	stubParent struct {
		stubTask
		children []api.Task
		errors   []api.Task
	}
)

func task(id string) *stubTask {
	return &stubTask{id: id}
}

func (t *stubTask) TaskID() string   { return t.id }
func (t *stubTask) TaskType() string { return "stub" }
func (t *stubTask) IsDisabled() bool { return t.disabled }

func (p *stubParent) AllChildTasks() []api.Task {
	return append(append([]api.Task{}, p.children...), p.errors...)
}

func (p *stubParent) ErrorTasks() []api.Task { return p.errors }

func testFlow(tasks ...api.Task) *api.Flow {
	return &api.Flow{ID: "flow", Namespace: "io.test", Tasks: tasks}
}

func taskRun(
	e *api.Execution, t api.Task, parent *api.TaskRun, st api.StateType,
) *api.TaskRun {
	rt := &api.ResolvedTask{Task: t}
	if parent != nil {
		rt.ParentID = parent.ID
		rt.Value = parent.Value
	}
	tr := rt.ToTaskRun(e)
	tr.State = api.NewStateOf(st)
	return tr
}
