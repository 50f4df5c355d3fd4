package api

import (
	"maps"
	"slices"
)

type (
	// TaskRun is one instantiation of a Task within one Execution
	TaskRun struct {
		ID              string            `json:"id"`
		ExecutionID     string            `json:"executionId"`
		Namespace       string            `json:"namespace"`
		FlowID          string            `json:"flowId"`
		TaskID          string            `json:"taskId"`
		ParentTaskRunID string            `json:"parentTaskRunId,omitempty"`
		Value           string            `json:"value,omitempty"`
		Attempts        []*TaskRunAttempt `json:"attempts,omitempty"`
		Outputs         map[string]any    `json:"outputs,omitempty"`
		State           State             `json:"state"`
	}

	// TaskRunAttempt is a single worker attempt at running a TaskRun
	TaskRunAttempt struct {
		State State `json:"state"`
	}
)

// NewAttempt returns a TaskRunAttempt in the provided state
func NewAttempt(t StateType) *TaskRunAttempt {
	return &TaskRunAttempt{State: NewStateOf(t)}
}

// WithState returns a copy of the TaskRun with the state type appended
func (tr *TaskRun) WithState(t StateType) *TaskRun {
	res := *tr
	res.State = tr.State.WithState(t)
	return &res
}

// WithOutputs returns a copy of the TaskRun with the outputs replaced
func (tr *TaskRun) WithOutputs(outputs map[string]any) *TaskRun {
	res := *tr
	res.Outputs = maps.Clone(outputs)
	return &res
}

// WithAttempts returns a copy of the TaskRun with the attempts replaced
func (tr *TaskRun) WithAttempts(attempts []*TaskRunAttempt) *TaskRun {
	res := *tr
	res.Attempts = slices.Clone(attempts)
	return &res
}

// WithAttempt returns a copy of the TaskRun with the attempt appended
func (tr *TaskRun) WithAttempt(a *TaskRunAttempt) *TaskRun {
	return tr.WithAttempts(append(slices.Clone(tr.Attempts), a))
}

// WithLastAttemptState returns a copy of the TaskRun whose last attempt has
// the state type appended. An attempt is added if there is none
func (tr *TaskRun) WithLastAttemptState(t StateType) *TaskRun {
	last := tr.LastAttempt()
	if last == nil {
		return tr.WithAttempt(NewAttempt(t))
	}
	attempts := slices.Clone(tr.Attempts)
	attempts[len(attempts)-1] = &TaskRunAttempt{State: last.State.WithState(t)}
	return tr.WithAttempts(attempts)
}

// AttemptNumber returns the number of attempts recorded so far
func (tr *TaskRun) AttemptNumber() int {
	return len(tr.Attempts)
}

// LastAttempt returns the most recent attempt, or nil
func (tr *TaskRun) LastAttempt() *TaskRunAttempt {
	if len(tr.Attempts) == 0 {
		return nil
	}
	return tr.Attempts[len(tr.Attempts)-1]
}

// IsSame reports whether both TaskRuns share an id and a value
func (tr *TaskRun) IsSame(other *TaskRun) bool {
	return tr.ID == other.ID && tr.Value == other.Value
}

// ForChildExecution returns a copy bound to another execution with its task
// run ids remapped. A non-nil State replaces the current one
func (tr *TaskRun) ForChildExecution(
	remap map[string]string, executionID string, st *State,
) *TaskRun {
	res := *tr
	res.ID = remap[tr.ID]
	res.ExecutionID = executionID
	if tr.ParentTaskRunID != "" {
		res.ParentTaskRunID = remap[tr.ParentTaskRunID]
	}
	if st != nil {
		res.State = *st
	}
	return &res
}
