package executor

import (
	"fmt"
	"log/slog"

	"github.com/kode4food/cascade/internal/runner"
	"github.com/kode4food/cascade/pkg/api"
	"github.com/kode4food/cascade/pkg/log"
)

// step runs the pipeline stages in order and stops at the first one that
// changes something
func (a *actor) step() bool {
	for _, stage := range []func() bool{
		a.handlePending,
		a.handleRestart,
		a.handleEnd,
		a.handleCreatedKilling,
		a.handleKilling,
		a.handleNexts,
		a.handleListeners,
		a.handleWorkerTasks,
		a.handleChildResults,
	} {
		if stage() {
			return true
		}
	}
	return false
}

func (a *actor) handlePending() bool {
	if len(a.pending) == 0 {
		return false
	}
	pending := a.pending
	a.pending = nil
	changed := false
	for _, tr := range pending {
		if a.merge(tr) {
			changed = true
		}
	}
	return changed
}

func (a *actor) handleRestart() bool {
	if a.execution.State.Current != api.StateRestarted {
		return false
	}
	a.execution = a.execution.WithState(api.StateRunning)
	return true
}

func (a *actor) handleEnd() bool {
	e := a.execution
	if e.State.IsTerminated() || e.State.IsPaused() {
		return false
	}
	if e.FindLastNotTerminated() != nil {
		return false
	}
	tasks := api.ResolvedTasksOf(a.flow.Tasks)
	errs := api.ResolvedTasksOf(a.flow.Errors)
	if !e.IsTerminatedFor(e.FindTaskDependingFlowState(tasks, errs, nil), nil) {
		return false
	}

	final := e.GuessFinalState(tasks, nil, false)
	if e.State.Current == api.StateKilling {
		final = api.StateKilled
	}
	a.execution = e.WithState(final)
	slog.Info("Execution ended",
		log.ExecutionID(a.id),
		log.State(final))
	return true
}

func (a *actor) handleCreatedKilling() bool {
	if a.execution.State.Current != api.StateKilling {
		return false
	}
	changed := false
	for _, tr := range a.execution.TaskRunList {
		if !tr.State.IsCreated() {
			continue
		}
		if res, err := a.execution.WithTaskRun(
			tr.WithState(api.StateKilled),
		); err == nil {
			a.execution = res
			changed = true
		}
	}
	return changed
}

func (a *actor) handleKilling() bool {
	e := a.execution
	if e.State.Current != api.StateKilling || e.FindLastNotTerminated() != nil {
		return false
	}
	a.execution = e.WithState(api.StateKilled)
	slog.Info("Execution killed", log.ExecutionID(a.id))
	return true
}

func (a *actor) handleNexts() bool {
	e := a.execution
	switch e.State.Current {
	case api.StateKilling, api.StateKilled:
		return false
	}

	var nexts []*api.TaskRun
	if !e.State.IsTerminated() {
		nexts = runner.ResolveSequentialNexts(e,
			api.ResolvedTasksOf(a.flow.Tasks),
			api.ResolvedTasksOf(a.flow.Errors),
			nil,
		)
	}
	for _, tr := range e.TaskRunList {
		if !tr.State.IsRunning() {
			continue
		}
		fl, err := a.flowable(tr)
		if err != nil {
			a.fault(tr.ID, err)
			return true
		}
		if fl == nil {
			continue
		}
		res, err := fl.ResolveNexts(a.runContext(tr), tr)
		if err != nil {
			a.fault(tr.ID, err)
			return true
		}
		nexts = append(nexts, res...)
	}
	return a.onNexts(nexts)
}

func (a *actor) handleListeners() bool {
	e := a.execution
	if !e.State.IsTerminated() {
		return false
	}
	listeners := a.triggers.FindValidListeners(a.ctx, a.flow, e)
	if len(listeners) == 0 {
		return false
	}
	return a.onNexts(runner.ResolveSequentialNexts(e, listeners, nil, nil))
}

// handleWorkerTasks dispatches every created task run once per attempt.
// Runnable tasks go to the worker. Flowable tasks are started in place
func (a *actor) handleWorkerTasks() bool {
	e := a.execution
	if e.State.Current == api.StateKilling {
		return false
	}
	changed := false
	for _, tr := range e.TaskRunList {
		if !tr.State.IsCreated() {
			continue
		}
		key := fmt.Sprintf("%s-%s-%d", e.ID, tr.ID, tr.AttemptNumber())
		if last, ok := a.dispatched[key]; ok && last == tr.State.Current {
			continue
		}
		a.dispatched[key] = tr.State.Current

		task, err := a.flow.FindTaskByTaskID(tr.TaskID)
		if err != nil {
			a.fault(tr.ID, err)
			return true
		}
		rc := a.runContext(tr)
		if !runner.IsFlowable(task) {
			a.queues.WorkerTasks.Emit(&api.WorkerTask{
				TaskRun:   tr,
				Task:      task,
				Variables: rc.Variables(),
			})
			continue
		}

		res := tr.WithState(api.StateRunning)
		if op, ok := task.(runner.OutputProvider); ok {
			out, err := op.Outputs(rc, tr)
			if err != nil {
				a.fault(tr.ID, err)
				return true
			}
			res = res.WithOutputs(out)
		}
		a.pending = append(a.pending, res)
		changed = true
	}
	return changed
}

// handleChildResults derives the state of every running flowable from its
// children. While killing, a flowable that can't resolve yet is moved to
// KILLING and then to KILLED once its current children are terminated
func (a *actor) handleChildResults() bool {
	changed := false
	for _, snap := range a.execution.TaskRunList {
		tr, err := a.execution.FindTaskRunByTaskRunID(snap.ID)
		if err != nil || !tr.State.IsRunning() {
			continue
		}
		fl, err := a.flowable(tr)
		if err != nil {
			a.fault(tr.ID, err)
			return true
		}
		if fl == nil {
			continue
		}

		rc := a.runContext(tr)
		st, ok, err := fl.ResolveState(rc, tr)
		if err != nil {
			a.fault(tr.ID, err)
			return true
		}
		if ok {
			if a.merge(tr.WithState(st)) {
				changed = true
			}
			continue
		}
		if a.execution.State.Current != api.StateKilling {
			continue
		}
		if tr.State.Current != api.StateKilling {
			if a.merge(tr.WithState(api.StateKilling)) {
				changed = true
			}
			continue
		}

		children, err := fl.ChildTasks(rc, tr)
		if err != nil {
			a.fault(tr.ID, err)
			return true
		}
		errs := runner.ResolveTasks(fl.ErrorTasks(), tr)
		current := a.execution.FindTaskDependingFlowState(children, errs, tr)
		if a.execution.IsTerminatedFor(current, tr) {
			if a.merge(tr.WithState(api.StateKilled)) {
				changed = true
			}
		}
	}
	return changed
}

// onNexts appends the task runs that were not already created for the same
// parent, task, value, and attempt
func (a *actor) onNexts(nexts []*api.TaskRun) bool {
	var fresh []*api.TaskRun
	for _, tr := range nexts {
		key := fmt.Sprintf("%s-%s-%s-%d",
			tr.ParentTaskRunID, tr.TaskID, tr.Value, tr.AttemptNumber(),
		)
		if a.nexts.Contains(key) {
			continue
		}
		a.nexts.Add(key)
		fresh = append(fresh, tr)
	}
	if len(fresh) == 0 {
		return false
	}

	e := a.execution.WithNewTaskRuns(fresh...)
	if e.State.Current == api.StateCreated {
		e = e.WithState(api.StateRunning)
		slog.Info("Flow started",
			log.ExecutionID(a.id),
			log.Namespace(e.Namespace),
			log.FlowID(e.FlowID))
	}
	a.execution = e
	return true
}

// merge applies a task run update when it carries new information. Terminal
// task runs never change state again, and a KILLED task run kills its
// ancestors
func (a *actor) merge(tr *api.TaskRun) bool {
	e := a.execution
	if !e.HasTaskRunJoinable(tr) {
		return false
	}
	cur, err := e.FindTaskRunByTaskRunID(tr.ID)
	if err != nil {
		slog.Warn("Dropped result for unknown task run",
			log.ExecutionID(a.id),
			log.TaskRunID(tr.ID),
			log.TaskID(tr.TaskID))
		return false
	}
	if cur.State.IsTerminated() && cur.State.Current != tr.State.Current {
		return false
	}
	res, err := e.WithTaskRun(tr)
	if err != nil {
		return false
	}
	if tr.State.Current == api.StateKilled {
		res = killParents(res, tr)
	}
	a.execution = res
	return true
}

func killParents(e *api.Execution, tr *api.TaskRun) *api.Execution {
	for _, p := range e.FindParents(tr) {
		if p.State.IsTerminated() {
			continue
		}
		if res, err := e.WithTaskRun(p.WithState(api.StateKilled)); err == nil {
			e = res
		}
	}
	return e
}

func (a *actor) flowable(tr *api.TaskRun) (runner.Flowable, error) {
	task, err := a.flow.FindTaskByTaskID(tr.TaskID)
	if err != nil {
		return nil, err
	}
	fl, _ := task.(runner.Flowable)
	return fl, nil
}

func (a *actor) runContext(tr *api.TaskRun) *runner.RunContext {
	return runner.NewRunContext(a.flow, a.execution, a.flows).ForTaskRun(tr)
}
