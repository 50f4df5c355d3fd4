package runner_test

import "github.com/kode4food/cascade/pkg/api"

type stubTask struct {
	id       string
	disabled bool
}

func (t *stubTask) TaskID() string   { return t.id }
func (t *stubTask) TaskType() string { return "stub" }
func (t *stubTask) IsDisabled() bool { return t.disabled }

func tasks(ids ...string) []api.Task {
	res := make([]api.Task, 0, len(ids))
	for _, id := range ids {
		res = append(res, &stubTask{id: id})
	}
	return res
}

func newExecution(ts ...api.Task) *api.Execution {
	f := &api.Flow{ID: "flow", Namespace: "io.test", Tasks: ts}
	return api.NewExecution(f, nil, nil)
}

func withRun(
	e *api.Execution, rt *api.ResolvedTask, st api.StateType,
) (*api.Execution, *api.TaskRun) {
	tr := rt.ToTaskRun(e)
	tr.State = api.NewStateOf(st)
	return e.WithNewTaskRuns(tr), tr
}
