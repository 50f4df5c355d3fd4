package api

import (
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"

	"dario.cat/mergo"
	"github.com/google/uuid"

	"github.com/kode4food/cascade/pkg/log"
)

type (
	// Execution is the root aggregate of a single flow run
	Execution struct {
		ID           string            `json:"id"`
		Namespace    string            `json:"namespace"`
		FlowID       string            `json:"flowId"`
		FlowRevision int               `json:"flowRevision"`
		TaskRunList  []*TaskRun        `json:"taskRunList,omitempty"`
		Inputs       map[string]any    `json:"inputs,omitempty"`
		Labels       map[string]string `json:"labels,omitempty"`
		Variables    map[string]any    `json:"variables,omitempty"`
		State        State             `json:"state"`
		ParentID     string            `json:"parentId,omitempty"`
		OriginalID   string            `json:"originalId,omitempty"`
		Trigger      *ExecutionTrigger `json:"trigger,omitempty"`
	}

	// ExecutionTrigger records which trigger created an Execution
	ExecutionTrigger struct {
		ID        string         `json:"id"`
		Type      string         `json:"type"`
		Variables map[string]any `json:"variables,omitempty"`
	}

	// FailedExecutionWithLog is an Execution forced into failure by the
	// executor, along with the log entries that explain why
	FailedExecutionWithLog struct {
		Execution *Execution
		Logs      []*LogEntry
	}
)

var (
	ErrTaskRunNotFound = errors.New("task run not found")
	ErrTaskRunReplace  = errors.New("can't replace task run")
)

// NewExecution creates a CREATED Execution for the provided flow. Flow
// labels are applied first and are overridden by the provided ones
func NewExecution(
	f *Flow, inputs map[string]any, labels map[string]string,
) *Execution {
	id := uuid.NewString()
	res := &Execution{
		ID:           id,
		Namespace:    f.Namespace,
		FlowID:       f.ID,
		FlowRevision: f.Revision,
		Inputs:       maps.Clone(inputs),
		Variables:    maps.Clone(f.Variables),
		State:        NewState(),
		OriginalID:   id,
	}
	if len(f.Labels) > 0 || len(labels) > 0 {
		res.Labels = map[string]string{}
		maps.Copy(res.Labels, f.Labels)
		maps.Copy(res.Labels, labels)
	}
	return res
}

// WithState returns a copy of the Execution with the state type appended
func (e *Execution) WithState(t StateType) *Execution {
	res := *e
	res.State = e.State.WithState(t)
	return &res
}

// WithTrigger returns a copy of the Execution with trigger provenance set
func (e *Execution) WithTrigger(t *ExecutionTrigger) *Execution {
	res := *e
	res.Trigger = t
	return &res
}

// WithTaskRunList returns a copy of the Execution with the task runs replaced
func (e *Execution) WithTaskRunList(list []*TaskRun) *Execution {
	res := *e
	res.TaskRunList = slices.Clone(list)
	return &res
}

// WithNewTaskRuns returns a copy of the Execution with the task runs
// appended to the end of its list
func (e *Execution) WithNewTaskRuns(trs ...*TaskRun) *Execution {
	res := *e
	res.TaskRunList = append(slices.Clone(e.TaskRunList), trs...)
	return &res
}

// WithTaskRun returns a copy of the Execution where the TaskRun with the same
// id has been replaced
func (e *Execution) WithTaskRun(tr *TaskRun) (*Execution, error) {
	idx := slices.IndexFunc(e.TaskRunList, func(t *TaskRun) bool {
		return t.ID == tr.ID
	})
	if idx < 0 {
		return nil, fmt.Errorf("%w: '%s' on execution '%s'",
			ErrTaskRunReplace, tr.ID, e.ID)
	}
	res := *e
	res.TaskRunList = slices.Clone(e.TaskRunList)
	res.TaskRunList[idx] = tr
	return &res, nil
}

// ChildExecution returns a copy of the Execution with the task runs and
// state replaced. When an id is provided, the copy takes that id and records
// the receiver as its parent
func (e *Execution) ChildExecution(
	id string, list []*TaskRun, st State,
) *Execution {
	res := *e
	res.TaskRunList = slices.Clone(list)
	res.State = st
	if id != "" {
		res.ID = id
		res.ParentID = e.ID
	}
	return &res
}

// FindTaskRunByTaskRunID returns the TaskRun with the provided id
func (e *Execution) FindTaskRunByTaskRunID(id string) (*TaskRun, error) {
	for _, tr := range e.TaskRunList {
		if tr.ID == id {
			return tr, nil
		}
	}
	return nil, fmt.Errorf("%w: '%s' on execution '%s'",
		ErrTaskRunNotFound, id, e.ID)
}

// FindTaskRunsByTaskID returns every TaskRun of the provided task
func (e *Execution) FindTaskRunsByTaskID(id string) []*TaskRun {
	var res []*TaskRun
	for _, tr := range e.TaskRunList {
		if tr.TaskID == id {
			res = append(res, tr)
		}
	}
	return res
}

// FindTaskRunByTaskIDAndValue returns the TaskRun of the provided task whose
// lineage of values, itself included, equals the provided values
func (e *Execution) FindTaskRunByTaskIDAndValue(
	id string, values []string,
) (*TaskRun, error) {
	for _, tr := range e.TaskRunList {
		if tr.TaskID != id {
			continue
		}
		if slices.Equal(e.FindParentsValues(tr, true), values) {
			return tr, nil
		}
	}
	return nil, fmt.Errorf("%w: task '%s' with values %v on execution '%s'",
		ErrTaskRunNotFound, id, values, e.ID)
}

// FindTaskRunByTasks returns the TaskRuns, in execution order, derived from
// any of the ResolvedTasks under the provided parent
func (e *Execution) FindTaskRunByTasks(
	resolved []*ResolvedTask, parent *TaskRun,
) []*TaskRun {
	if resolved == nil {
		return nil
	}
	var res []*TaskRun
	for _, tr := range e.TaskRunList {
		for _, r := range resolved {
			if r.IsTaskRunFor(tr, parent) {
				res = append(res, tr)
				break
			}
		}
	}
	return res
}

// FindTaskDependingFlowState determines which branch a container follows.
// Once the normal tasks have failed, or any error task run exists, the
// error tasks are returned (empty when there are none). Otherwise the normal
// tasks are returned. Disabled tasks are dropped from both branches
func (e *Execution) FindTaskDependingFlowState(
	tasks, errs []*ResolvedTask, parent *TaskRun,
) []*ResolvedTask {
	tasks = RemoveDisabled(tasks)
	errs = RemoveDisabled(errs)

	errorFlow := e.FindTaskRunByTasks(errs, parent)
	if len(errorFlow) > 0 || e.HasFailed(tasks, parent) {
		if errs == nil {
			return []*ResolvedTask{}
		}
		return errs
	}
	return tasks
}

// IsTerminatedFor reports whether every ResolvedTask has a terminated
// TaskRun under the provided parent
func (e *Execution) IsTerminatedFor(
	resolved []*ResolvedTask, parent *TaskRun,
) bool {
	count := 0
	for _, tr := range e.FindTaskRunByTasks(resolved, parent) {
		if tr.State.IsTerminated() {
			count++
		}
	}
	return count == len(resolved)
}

// HasFailed reports whether any matching TaskRun is FAILED or KILLED
func (e *Execution) HasFailed(resolved []*ResolvedTask, parent *TaskRun) bool {
	return e.anyTaskRun(resolved, parent, func(tr *TaskRun) bool {
		return tr.State.IsFailed()
	})
}

// HasWarning reports whether any matching TaskRun is in WARNING
func (e *Execution) HasWarning(resolved []*ResolvedTask, parent *TaskRun) bool {
	return e.anyTaskRun(resolved, parent, func(tr *TaskRun) bool {
		return tr.State.Current == StateWarning
	})
}

// HasCreated reports whether any matching TaskRun is in an initial state
func (e *Execution) HasCreated(resolved []*ResolvedTask, parent *TaskRun) bool {
	return e.anyTaskRun(resolved, parent, func(tr *TaskRun) bool {
		return tr.State.IsCreated()
	})
}

// HasRunning reports whether any matching TaskRun is in a running state
func (e *Execution) HasRunning(resolved []*ResolvedTask, parent *TaskRun) bool {
	return e.anyTaskRun(resolved, parent, func(tr *TaskRun) bool {
		return tr.State.IsRunning()
	})
}

func (e *Execution) anyTaskRun(
	resolved []*ResolvedTask, parent *TaskRun, pred func(*TaskRun) bool,
) bool {
	return slices.ContainsFunc(e.FindTaskRunByTasks(resolved, parent), pred)
}

// GuessFinalState aggregates the states of the matching TaskRuns. KILLED
// wins over FAILED, which wins over WARNING, which wins over PAUSED.
// Anything else is SUCCESS. With allowFailure, FAILED becomes WARNING
func (e *Execution) GuessFinalState(
	current []*ResolvedTask, parent *TaskRun, allowFailure bool,
) StateType {
	trs := e.FindTaskRunByTasks(current, parent)
	res := StateSuccess
	for _, t := range []StateType{
		StateKilled, StateFailed, StateWarning, StatePaused,
	} {
		if slices.ContainsFunc(trs, func(tr *TaskRun) bool {
			return tr.State.Current == t
		}) {
			res = t
			break
		}
	}
	if res == StateFailed && allowFailure {
		return StateWarning
	}
	return res
}

// HasTaskRunJoinable reports whether an inbound TaskRun update carries new
// information and may be merged into the Execution
func (e *Execution) HasTaskRunJoinable(tr *TaskRun) bool {
	idx := slices.IndexFunc(e.TaskRunList, func(t *TaskRun) bool {
		return t.IsSame(tr)
	})
	if idx < 0 {
		return true
	}
	current := e.TaskRunList[idx]

	if len(current.Attempts) < len(tr.Attempts) {
		return true
	}
	if current.State.Current == tr.State.Current {
		return false
	}
	if current.State.IsTerminated() && !tr.State.IsTerminated() {
		return false
	}
	if len(current.State.Histories) > len(tr.State.Histories) {
		return false
	}
	return true
}

// FindLastNotTerminated returns the most recent TaskRun that is not yet
// terminated, or nil
func (e *Execution) FindLastNotTerminated() *TaskRun {
	for i := len(e.TaskRunList) - 1; i >= 0; i-- {
		if tr := e.TaskRunList[i]; !tr.State.IsTerminated() {
			return tr
		}
	}
	return nil
}

// FindParents returns the ancestors of a TaskRun, outermost first
func (e *Execution) FindParents(tr *TaskRun) []*TaskRun {
	var res []*TaskRun
	seen := map[string]bool{tr.ID: true}
	for cur := tr; cur.ParentTaskRunID != ""; {
		parent, err := e.FindTaskRunByTaskRunID(cur.ParentTaskRunID)
		if err != nil || seen[parent.ID] {
			break
		}
		seen[parent.ID] = true
		res = append(res, parent)
		cur = parent
	}
	slices.Reverse(res)
	return res
}

// FindParentsValues returns the non-empty values of a TaskRun's lineage,
// outermost first, optionally including the TaskRun itself
func (e *Execution) FindParentsValues(tr *TaskRun, withCurrent bool) []string {
	var res []string
	for _, p := range e.FindParents(tr) {
		if p.Value != "" {
			res = append(res, p.Value)
		}
	}
	if withCurrent && tr.Value != "" {
		res = append(res, tr.Value)
	}
	return res
}

// Parents returns the template variables of a TaskRun's ancestors, closest
// first. Only ancestors carrying a value or outputs are included
func (e *Execution) Parents(tr *TaskRun) []map[string]any {
	parents := e.FindParents(tr)
	slices.Reverse(parents)

	res := []map[string]any{}
	for _, p := range parents {
		cur := map[string]any{}
		if p.Value != "" {
			cur["taskrun"] = map[string]any{"value": p.Value}
		}
		if len(p.Outputs) > 0 {
			cur["outputs"] = p.Outputs
		}
		if len(cur) > 0 {
			res = append(res, cur)
		}
	}
	return res
}

// Outputs returns the outputs of every TaskRun keyed by task id. Outputs of
// TaskRuns with values are nested under each value of their lineage
func (e *Execution) Outputs() map[string]any {
	res := map[string]any{}
	for _, tr := range e.TaskRunList {
		if tr.Outputs == nil {
			continue
		}
		err := mergo.Merge(&res, e.taskRunOutputs(tr), mergo.WithOverride)
		if err != nil {
			slog.Error("Failed to merge task run outputs",
				log.ExecutionID(e.ID),
				log.TaskRunID(tr.ID),
				log.TaskID(tr.TaskID),
				log.Error(err))
		}
	}
	return res
}

func (e *Execution) taskRunOutputs(tr *TaskRun) map[string]any {
	values := e.FindParentsValues(tr, false)
	if len(values) == 0 {
		if tr.Value == "" {
			return map[string]any{tr.TaskID: maps.Clone(tr.Outputs)}
		}
		return map[string]any{
			tr.TaskID: map[string]any{tr.Value: maps.Clone(tr.Outputs)},
		}
	}

	root := map[string]any{}
	cur := root
	for _, v := range values {
		item := map[string]any{}
		cur[v] = item
		cur = item
	}
	if tr.Value != "" {
		cur[tr.Value] = maps.Clone(tr.Outputs)
	} else {
		maps.Copy(cur, tr.Outputs)
	}
	return map[string]any{tr.TaskID: root}
}

// FailedExecutionFromExecutor converts an engine fault into a failed
// Execution. The most recent non-terminated TaskRun is failed, on its last
// attempt, and the fault is logged against it. When there is no such TaskRun
// the Execution itself is failed
func (e *Execution) FailedExecutionFromExecutor(
	err error,
) *FailedExecutionWithLog {
	if tr := e.FindLastNotTerminated(); tr != nil {
		if res, ok := e.failTaskRun(tr, err); ok {
			return res
		}
	}
	return &FailedExecutionWithLog{
		Execution: e.WithState(StateFailed),
		Logs:      []*LogEntry{LogEntryOfExecution(e, LevelError, err)},
	}
}

// FailTaskRunFromExecutor fails a specific TaskRun after an engine fault
// and logs the fault against it. It falls back to FailedExecutionFromExecutor
// when the TaskRun is unknown or already terminated
func (e *Execution) FailTaskRunFromExecutor(
	taskRunID string, err error,
) *FailedExecutionWithLog {
	if tr, ferr := e.FindTaskRunByTaskRunID(taskRunID); ferr == nil {
		if !tr.State.IsTerminated() {
			if res, ok := e.failTaskRun(tr, err); ok {
				return res
			}
		}
	}
	return e.FailedExecutionFromExecutor(err)
}

func (e *Execution) failTaskRun(
	tr *TaskRun, err error,
) (*FailedExecutionWithLog, bool) {
	failed := tr.WithLastAttemptState(StateFailed).WithState(StateFailed)
	res, rerr := e.WithTaskRun(failed)
	if rerr != nil {
		return nil, false
	}
	return &FailedExecutionWithLog{
		Execution: res,
		Logs:      []*LogEntry{LogEntryOfTaskRun(tr, LevelError, err)},
	}, true
}
