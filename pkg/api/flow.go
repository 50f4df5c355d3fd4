package api

import (
	"errors"
	"fmt"
	"maps"
	"slices"
)

type (
	// Flow is a named, versioned task tree plus its triggers and listeners
	Flow struct {
		ID          string            `json:"id"`
		Namespace   string            `json:"namespace"`
		Revision    int               `json:"revision"`
		Description string            `json:"description,omitempty"`
		Labels      map[string]string `json:"labels,omitempty"`
		Variables   map[string]any    `json:"variables,omitempty"`
		Inputs      []*Input          `json:"inputs,omitempty"`
		Tasks       []Task            `json:"-"`
		Errors      []Task            `json:"-"`
		Listeners   []*Listener       `json:"-"`
		Triggers    []*FlowTrigger    `json:"-"`
		Disabled    bool              `json:"disabled,omitempty"`
	}

	// Input declares a value an Execution may be created with
	Input struct {
		Name     string `json:"name"`
		Type     string `json:"type,omitempty"`
		Required bool   `json:"required,omitempty"`
		Default  any    `json:"default,omitempty"`
	}

	// Listener runs its tasks once the Execution is terminated, when all of
	// its conditions hold
	Listener struct {
		Description string
		Conditions  []Condition
		Tasks       []Task
	}

	// FlowTrigger starts an Execution of its Flow when another Execution
	// terminates and all of the trigger's conditions hold
	FlowTrigger struct {
		ID          string
		Description string
		Conditions  []Condition
		States      []StateType
		Inputs      map[string]string
		Disabled    bool
	}

	// FlowProvider supplies flow definitions to the engine
	FlowProvider interface {
		FindByID(namespace, id string, revision *int) (*Flow, error)
		FindByExecution(e *Execution) (*Flow, error)
		FindAll() []*Flow
	}
)

var (
	ErrFlowNotFound      = errors.New("flow not found")
	ErrTaskNotFound      = errors.New("task not found")
	ErrFlowIDEmpty       = errors.New("flow id empty")
	ErrFlowNamespace     = errors.New("flow namespace empty")
	ErrFlowNoTasks       = errors.New("flow has no tasks")
	ErrTaskIDEmpty       = errors.New("task id empty")
	ErrDuplicateTaskID   = errors.New("duplicate task id")
	ErrInputNameEmpty    = errors.New("input name empty")
	ErrRequiredInput     = errors.New("required input missing")
	ErrTriggerIDEmpty    = errors.New("trigger id empty")
	ErrDuplicateTrigger  = errors.New("duplicate trigger id")
	ErrMissingCondition  = errors.New("trigger has no conditions")
	ErrTemplateRecursion = errors.New("template recursion detected")
)

// UID returns the namespaced identifier of the Flow
func (f *Flow) UID() string {
	return f.Namespace + "." + f.ID
}

// AllTasks returns every task of the Flow, walking children, error
// branches, and listener tasks
func (f *Flow) AllTasks() []Task {
	var res []Task
	res = appendAllTasks(res, f.Tasks)
	res = appendAllTasks(res, f.Errors)
	for _, l := range f.Listeners {
		res = appendAllTasks(res, l.Tasks)
	}
	return res
}

// AllErrorsWithChildren returns every task that belongs to an error branch,
// at the flow level or inside any container
func (f *Flow) AllErrorsWithChildren() []Task {
	res := appendAllTasks(nil, f.Errors)
	for _, t := range f.AllTasks() {
		if eh, ok := t.(ErrorHandler); ok {
			res = appendAllTasks(res, eh.ErrorTasks())
		}
	}
	return res
}

// FindTaskByTaskID returns the task with the provided id
func (f *Flow) FindTaskByTaskID(id string) (Task, error) {
	for _, t := range f.AllTasks() {
		if t.TaskID() == id {
			return t, nil
		}
	}
	return nil, fmt.Errorf("%w: '%s' in flow '%s'",
		ErrTaskNotFound, id, f.UID())
}

// IsListenerTask reports whether the task id belongs to a listener
func (f *Flow) IsListenerTask(id string) bool {
	for _, l := range f.Listeners {
		if slices.ContainsFunc(appendAllTasks(nil, l.Tasks), func(t Task) bool {
			return t.TaskID() == id
		}) {
			return true
		}
	}
	return false
}

// ValidateTaskIDs checks that every task of the Flow, including those
// reached through templates, has a unique non-empty id
func (f *Flow) ValidateTaskIDs() error {
	seen := map[string]bool{}
	for _, t := range f.AllTasks() {
		id := t.TaskID()
		if id == "" {
			return ErrTaskIDEmpty
		}
		if seen[id] {
			return fmt.Errorf("%w: %s", ErrDuplicateTaskID, id)
		}
		seen[id] = true
	}
	return nil
}

// Validate checks the structural integrity of the Flow
func (f *Flow) Validate() error {
	if f.ID == "" {
		return ErrFlowIDEmpty
	}
	if f.Namespace == "" {
		return ErrFlowNamespace
	}
	if len(f.Tasks) == 0 {
		return ErrFlowNoTasks
	}
	if err := f.ValidateTaskIDs(); err != nil {
		return err
	}
	for _, in := range f.Inputs {
		if in.Name == "" {
			return ErrInputNameEmpty
		}
	}
	triggers := map[string]bool{}
	for _, tr := range f.Triggers {
		if err := tr.Validate(); err != nil {
			return err
		}
		if triggers[tr.ID] {
			return fmt.Errorf("%w: %s", ErrDuplicateTrigger, tr.ID)
		}
		triggers[tr.ID] = true
	}
	return nil
}

// ResolveInputs applies declared defaults to the provided inputs and checks
// that required inputs are present
func (f *Flow) ResolveInputs(inputs map[string]any) (map[string]any, error) {
	res := map[string]any{}
	maps.Copy(res, inputs)
	for _, in := range f.Inputs {
		if _, ok := res[in.Name]; ok {
			continue
		}
		if in.Default != nil {
			res[in.Name] = in.Default
			continue
		}
		if in.Required {
			return nil, fmt.Errorf("%w: %s", ErrRequiredInput, in.Name)
		}
	}
	return res, nil
}

// Validate checks the structural integrity of the FlowTrigger
func (t *FlowTrigger) Validate() error {
	if t.ID == "" {
		return ErrTriggerIDEmpty
	}
	if len(t.Conditions) == 0 && len(t.States) == 0 {
		return fmt.Errorf("%w: %s", ErrMissingCondition, t.ID)
	}
	return nil
}

func appendAllTasks(res []Task, tasks []Task) []Task {
	for _, t := range tasks {
		res = append(res, t)
		if p, ok := t.(Parent); ok {
			res = appendAllTasks(res, p.AllChildTasks())
		}
	}
	return res
}
