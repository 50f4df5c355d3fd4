package runner

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tidwall/gjson"

	"github.com/kode4food/cascade/pkg/api"
	"github.com/kode4food/cascade/pkg/util"
)

var (
	ErrEachNotArray   = errors.New("each value must be a JSON array")
	ErrEachNullValue  = errors.New("each value contains null elements")
	ErrEachEmptyValue = errors.New("each value contains empty strings")
)

// ResolveTasks binds static child tasks to a parent task run. The parent's
// value is carried over to every child
func ResolveTasks(tasks []api.Task, parent *api.TaskRun) []*api.ResolvedTask {
	if tasks == nil {
		return nil
	}
	res := make([]*api.ResolvedTask, 0, len(tasks))
	for _, t := range tasks {
		rt := &api.ResolvedTask{Task: t}
		if parent != nil {
			rt.ParentID = parent.ID
			rt.Value = parent.Value
		}
		res = append(res, rt)
	}
	return res
}

// ResolveEachTasks renders the value expression, which must produce a JSON
// array, and binds every child task to every distinct element, element
// first. Non-string elements are bound to their JSON encoding
func ResolveEachTasks(
	rc *RunContext, parent *api.TaskRun, tasks []api.Task, value string,
) ([]*api.ResolvedTask, error) {
	rendered, err := rc.Render(value)
	if err != nil {
		return nil, err
	}
	values, err := EachValues(rendered)
	if err != nil {
		return nil, err
	}

	res := make([]*api.ResolvedTask, 0, len(values)*len(tasks))
	for _, v := range values {
		for _, t := range tasks {
			res = append(res, &api.ResolvedTask{
				Task:     t,
				Value:    v,
				ParentID: parent.ID,
			})
		}
	}
	return res, nil
}

// EachValues decodes a rendered each value into its distinct string values,
// preserving their order
func EachValues(rendered string) ([]string, error) {
	if !gjson.Valid(rendered) {
		return nil, fmt.Errorf("%w: %s", ErrEachNotArray, rendered)
	}
	result := gjson.Parse(rendered)
	if !result.IsArray() {
		return nil, fmt.Errorf("%w: %s", ErrEachNotArray, rendered)
	}

	seen := util.Set[string]{}
	var res []string
	for _, item := range result.Array() {
		var v string
		switch item.Type {
		case gjson.Null:
			return nil, fmt.Errorf("%w: %s", ErrEachNullValue, rendered)
		case gjson.String:
			v = item.Str
		default:
			v = compactJSON(item.Raw)
		}
		if v == "" {
			return nil, fmt.Errorf("%w: %s", ErrEachEmptyValue, rendered)
		}
		if seen.Contains(v) {
			continue
		}
		seen.Add(v)
		res = append(res, v)
	}
	return res, nil
}

// ResolveSequentialNexts returns the next task run of a strictly ordered
// container. Nothing is returned while any current task run is created or
// running. Otherwise the task following the last terminated one is started
func ResolveSequentialNexts(
	e *api.Execution, tasks, errs []*api.ResolvedTask, parent *api.TaskRun,
) []*api.TaskRun {
	current := e.FindTaskDependingFlowState(tasks, errs, parent)
	if len(current) == 0 || e.State.Current == api.StateKilling {
		return nil
	}

	trs := e.FindTaskRunByTasks(current, parent)
	if len(trs) == 0 {
		return []*api.TaskRun{current[0].ToTaskRun(e)}
	}

	lastTerminated := -1
	for i, tr := range trs {
		switch {
		case tr.State.IsCreated(), tr.State.IsRunning():
			return nil
		case tr.State.IsTerminated():
			lastTerminated = i
		}
	}
	if lastTerminated >= 0 && lastTerminated+1 < len(current) {
		return []*api.TaskRun{current[lastTerminated+1].ToTaskRun(e)}
	}
	return nil
}

// ResolveParallelNexts returns every current task that has no task run yet.
// A positive concurrency caps the number of running siblings, zero means no
// limit. Nothing is returned while a previously created sibling has not
// started
func ResolveParallelNexts(
	e *api.Execution, tasks, errs []*api.ResolvedTask, parent *api.TaskRun,
	concurrency int,
) []*api.TaskRun {
	if e.State.Current == api.StateKilling {
		return nil
	}
	current := e.FindTaskDependingFlowState(tasks, errs, parent)
	trs := e.FindTaskRunByTasks(current, parent)

	var notFound []*api.ResolvedTask
	for _, rt := range current {
		found := false
		for _, tr := range trs {
			if rt.IsTaskRunFor(tr, parent) {
				found = true
				break
			}
		}
		if !found {
			notFound = append(notFound, rt)
		}
	}

	running := 0
	for _, tr := range trs {
		if tr.State.IsCreated() {
			return nil
		}
		if tr.State.IsRunning() {
			running++
		}
	}
	if len(notFound) == 0 {
		return nil
	}

	limit := len(notFound)
	if concurrency > 0 {
		limit = min(limit, concurrency-running)
	}
	if limit <= 0 {
		return nil
	}

	res := make([]*api.TaskRun, 0, limit)
	for _, rt := range notFound[:limit] {
		res = append(res, rt.ToTaskRun(e))
	}
	return res
}

// ResolveState aggregates the state of a container from the task runs of
// its children. The bool result is false while the state is undetermined.
// An empty child set resolves to SUCCESS. A failed normal branch with no
// error branch resolves right away, otherwise the current branch must be
// fully terminated. The final state is always derived from the normal
// branch, so an error branch never turns a failure into a success
func ResolveState(
	e *api.Execution, tasks, errs []*api.ResolvedTask, parent *api.TaskRun,
	allowFailure bool,
) (api.StateType, bool) {
	tasks = api.RemoveDisabled(tasks)
	if len(tasks) == 0 {
		return api.StateSuccess, true
	}

	current := e.FindTaskDependingFlowState(tasks, errs, parent)
	if len(current) > 0 {
		if e.IsTerminatedFor(current, parent) {
			return e.GuessFinalState(tasks, parent, allowFailure), true
		}
		return "", false
	}
	if e.HasFailed(tasks, parent) {
		return e.GuessFinalState(tasks, parent, allowFailure), true
	}
	return "", false
}

func compactJSON(raw string) string {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return raw
	}
	b, err := json.Marshal(v)
	if err != nil {
		return raw
	}
	return string(b)
}
