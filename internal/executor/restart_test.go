package executor_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kode4food/cascade/internal/executor"
	"github.com/kode4food/cascade/internal/tasks"
	"github.com/kode4food/cascade/pkg/api"
)

func restartFlow() *api.Flow {
	return &api.Flow{
		ID:        "restart",
		Namespace: "io.test",
		Tasks: []api.Task{
			&tasks.Return{
				Base:   tasks.Base{ID: "ok", Type: tasks.TypeReturn},
				Format: "ok",
			},
			&tasks.Sequential{
				Base: tasks.Base{ID: "wrap", Type: tasks.TypeSequential},
				Tasks: tasks.List{
					&tasks.Fail{
						Base: tasks.Base{ID: "boom", Type: tasks.TypeFail},
					},
				},
			},
		},
		Errors: []api.Task{
			&tasks.Log{
				Base:    tasks.Base{ID: "cleanup", Type: tasks.TypeLog},
				Message: "cleanup",
			},
		},
	}
}

func failedExecution(f *api.Flow) *api.Execution {
	e := api.NewExecution(f, nil, nil).WithState(api.StateRunning)
	root := api.ResolvedTasksOf(f.Tasks)
	ok := root[0].ToTaskRun(e).
		WithState(api.StateRunning).
		WithState(api.StateSuccess)
	wrap := root[1].ToTaskRun(e).
		WithState(api.StateRunning).
		WithState(api.StateFailed)
	boom := (&api.ResolvedTask{
		Task:     f.Tasks[1].(*tasks.Sequential).Tasks[0],
		ParentID: wrap.ID,
	}).ToTaskRun(e).
		WithState(api.StateRunning).
		WithState(api.StateFailed)
	cleanup := api.ResolvedTasksOf(f.Errors)[0].ToTaskRun(e).
		WithState(api.StateRunning).
		WithState(api.StateSuccess)
	return e.WithNewTaskRuns(ok, wrap, boom, cleanup).
		WithState(api.StateFailed)
}

func TestRestartStates(t *testing.T) {
	f := restartFlow()
	e := failedExecution(f)

	res, err := executor.Restart(e, f)
	require.NoError(t, err)
	assert.NotEqual(t, e.ID, res.ID)
	assert.Equal(t, e.ID, res.ParentID)
	assert.Equal(t, api.StateRestarted, res.State.Current)

	require.Len(t, res.TaskRunList, 3)
	ok, wrap, boom := res.TaskRunList[0], res.TaskRunList[1], res.TaskRunList[2]
	assert.Equal(t, api.StateSuccess, ok.State.Current)
	assert.Equal(t, api.StateRunning, wrap.State.Current)
	assert.Equal(t, api.StateRestarted, boom.State.Current)

	assert.Equal(t, wrap.ID, boom.ParentTaskRunID)
	for _, tr := range res.TaskRunList {
		assert.Equal(t, res.ID, tr.ExecutionID)
		_, err := e.FindTaskRunByTaskRunID(tr.ID)
		assert.ErrorIs(t, err, api.ErrTaskRunNotFound)
	}
}

func TestRestartNotTerminated(t *testing.T) {
	f := restartFlow()
	e := api.NewExecution(f, nil, nil).WithState(api.StateRunning)

	_, err := executor.Restart(e, f)
	assert.ErrorIs(t, err, executor.ErrNotRestartable)
}

func TestRestartNothingFailed(t *testing.T) {
	f := restartFlow()
	e := api.NewExecution(f, nil, nil).WithState(api.StateRunning)
	ok := api.ResolvedTasksOf(f.Tasks)[0].ToTaskRun(e).
		WithState(api.StateRunning).
		WithState(api.StateSuccess)
	e = e.WithNewTaskRuns(ok).WithState(api.StateSuccess)

	_, err := executor.Restart(e, f)
	assert.ErrorIs(t, err, executor.ErrNothingToRestart)
}
