package executor

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/kode4food/cascade/internal/runner"
	"github.com/kode4food/cascade/pkg/api"
	"github.com/kode4food/cascade/pkg/util"
)

// Restart builds a new execution from a terminated or paused one. Failed and
// paused task runs are restarted along with their ancestors: leaves become
// RESTARTED and containers go back to RUNNING. Task runs of error branches
// are dropped so they can run again. Every other task run is kept as is
func Restart(e *api.Execution, f *api.Flow) (*api.Execution, error) {
	if !e.State.IsTerminated() && !e.State.IsPaused() {
		return nil, fmt.Errorf("%w: '%s' is %s",
			ErrNotRestartable, e.ID, e.State.Current)
	}

	restart := util.Set[string]{}
	for _, tr := range e.TaskRunList {
		if !tr.State.IsFailed() && !tr.State.IsPaused() {
			continue
		}
		restart.Add(tr.ID)
		for _, p := range e.FindParents(tr) {
			restart.Add(p.ID)
		}
	}
	if restart.IsEmpty() {
		return nil, fmt.Errorf("%w: '%s'", ErrNothingToRestart, e.ID)
	}

	errorTasks := util.Set[string]{}
	for _, t := range f.AllErrorsWithChildren() {
		errorTasks.Add(t.TaskID())
	}

	id := uuid.NewString()
	remap := make(map[string]string, len(e.TaskRunList))
	for _, tr := range e.TaskRunList {
		remap[tr.ID] = uuid.NewString()
	}

	list := make([]*api.TaskRun, 0, len(e.TaskRunList))
	for _, tr := range e.TaskRunList {
		if errorTasks.Contains(tr.TaskID) {
			continue
		}
		if !restart.Contains(tr.ID) {
			list = append(list, tr.ForChildExecution(remap, id, nil))
			continue
		}
		task, err := f.FindTaskByTaskID(tr.TaskID)
		if err != nil {
			return nil, err
		}
		next := api.StateRestarted
		if runner.IsFlowable(task) {
			next = api.StateRunning
		}
		st := tr.State.Restart(next)
		list = append(list, tr.ForChildExecution(remap, id, &st))
	}

	return e.ChildExecution(id, list, e.State.Restart(api.StateRestarted)), nil
}
