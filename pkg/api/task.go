package api

import "github.com/google/uuid"

type (
	// Task is a node of a flow's task tree
	Task interface {
		TaskID() string
		TaskType() string
		IsDisabled() bool
	}

	// Parent is implemented by tasks that own other tasks
	Parent interface {
		Task
		AllChildTasks() []Task
	}

	// ErrorHandler is implemented by containers with an error branch
	ErrorHandler interface {
		ErrorTasks() []Task
	}

	// ResolvedTask binds a Task to a fan-out value and to the task run of
	// its enclosing flowable. The triple (TaskID, Value, ParentID) is the
	// identity of the TaskRun derived from it
	ResolvedTask struct {
		Task     Task
		Value    string
		ParentID string
	}
)

// ResolvedTasksOf binds tasks with no value and no parent
func ResolvedTasksOf(tasks []Task) []*ResolvedTask {
	if tasks == nil {
		return nil
	}
	res := make([]*ResolvedTask, 0, len(tasks))
	for _, t := range tasks {
		res = append(res, &ResolvedTask{Task: t})
	}
	return res
}

// ToTaskRun creates a new CREATED TaskRun for the bound task
func (r *ResolvedTask) ToTaskRun(e *Execution) *TaskRun {
	return &TaskRun{
		ID:              uuid.NewString(),
		ExecutionID:     e.ID,
		Namespace:       e.Namespace,
		FlowID:          e.FlowID,
		TaskID:          r.Task.TaskID(),
		ParentTaskRunID: r.ParentID,
		Value:           r.Value,
		State:           NewState(),
	}
}

// IsTaskRunFor reports whether the TaskRun was derived from the ResolvedTask.
// A nil parent matches any parent and an unbound value matches any value
func (r *ResolvedTask) IsTaskRunFor(tr *TaskRun, parent *TaskRun) bool {
	if r.Task.TaskID() != tr.TaskID {
		return false
	}
	if parent != nil && parent.ID != tr.ParentTaskRunID {
		return false
	}
	return r.Value == "" || r.Value == tr.Value
}

// RemoveDisabled filters out every ResolvedTask whose Task is disabled
func RemoveDisabled(tasks []*ResolvedTask) []*ResolvedTask {
	if tasks == nil {
		return nil
	}
	res := make([]*ResolvedTask, 0, len(tasks))
	for _, t := range tasks {
		if !t.Task.IsDisabled() {
			res = append(res, t)
		}
	}
	return res
}
