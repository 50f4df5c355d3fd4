package tasks

import (
	"encoding/json"
	"errors"

	"gopkg.in/yaml.v3"

	"github.com/kode4food/cascade/internal/runner"
	"github.com/kode4food/cascade/pkg/api"
)

type (
	// EachValue is the expression a fan-out container iterates over. It is
	// declared either as a template string rendering to a JSON array or as
	// a literal YAML list
	EachValue string

	// EachSequential runs its children once per value, one value at a time
	EachSequential struct {
		Base   `yaml:",inline"`
		Value  EachValue `yaml:"value"`
		Tasks  List      `yaml:"tasks"`
		Errors List      `yaml:"errors,omitempty"`
	}

	// EachParallel runs its children once per value, all values at once
	EachParallel struct {
		Base       `yaml:",inline"`
		Value      EachValue `yaml:"value"`
		Concurrent int       `yaml:"concurrent,omitempty"`
		Tasks      List      `yaml:"tasks"`
		Errors     List      `yaml:"errors,omitempty"`
	}
)

const (
	TypeEachSequential = "each-sequential"
	TypeEachParallel   = "each-parallel"
)

var ErrEachValueEmpty = errors.New("each value empty")

var (
	_ runner.Flowable = (*EachSequential)(nil)
	_ runner.Flowable = (*EachParallel)(nil)
)

func init() {
	Register(TypeEachSequential, func() api.Task { return &EachSequential{} })
	Register(TypeEachParallel, func() api.Task { return &EachParallel{} })
}

// UnmarshalYAML accepts a scalar expression or a sequence, which is stored
// as its JSON encoding
func (v *EachValue) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		*v = EachValue(node.Value)
		return nil
	}
	var items []any
	if err := node.Decode(&items); err != nil {
		return err
	}
	b, err := json.Marshal(items)
	if err != nil {
		return err
	}
	*v = EachValue(b)
	return nil
}

func (*EachSequential) TaskType() string { return TypeEachSequential }

func (e *EachSequential) AllChildTasks() []api.Task {
	return childTasks(e.Tasks, e.Errors)
}

func (e *EachSequential) ErrorTasks() []api.Task { return e.Errors }

func (e *EachSequential) Validate() error {
	return validateEach(e.Value, e.Tasks)
}

func (e *EachSequential) ChildTasks(
	rc *runner.RunContext, parent *api.TaskRun,
) ([]*api.ResolvedTask, error) {
	return runner.ResolveEachTasks(rc, parent, e.Tasks, string(e.Value))
}

func (e *EachSequential) ResolveNexts(
	rc *runner.RunContext, parent *api.TaskRun,
) ([]*api.TaskRun, error) {
	children, err := e.ChildTasks(rc, parent)
	if err != nil {
		return nil, err
	}
	return runner.ResolveSequentialNexts(
		rc.Execution(), children, runner.ResolveTasks(e.Errors, parent),
		parent,
	), nil
}

func (e *EachSequential) ResolveState(
	rc *runner.RunContext, parent *api.TaskRun,
) (api.StateType, bool, error) {
	children, err := e.ChildTasks(rc, parent)
	if err != nil {
		return "", false, err
	}
	st, ok := runner.ResolveState(
		rc.Execution(), children, runner.ResolveTasks(e.Errors, parent),
		parent, false,
	)
	return st, ok, nil
}

func (*EachParallel) TaskType() string { return TypeEachParallel }

func (e *EachParallel) AllChildTasks() []api.Task {
	return childTasks(e.Tasks, e.Errors)
}

func (e *EachParallel) ErrorTasks() []api.Task { return e.Errors }

func (e *EachParallel) Validate() error {
	if e.Concurrent < 0 {
		return ErrNegativeConcurrency
	}
	return validateEach(e.Value, e.Tasks)
}

func (e *EachParallel) ChildTasks(
	rc *runner.RunContext, parent *api.TaskRun,
) ([]*api.ResolvedTask, error) {
	return runner.ResolveEachTasks(rc, parent, e.Tasks, string(e.Value))
}

func (e *EachParallel) ResolveNexts(
	rc *runner.RunContext, parent *api.TaskRun,
) ([]*api.TaskRun, error) {
	children, err := e.ChildTasks(rc, parent)
	if err != nil {
		return nil, err
	}
	return runner.ResolveParallelNexts(
		rc.Execution(), children, runner.ResolveTasks(e.Errors, parent),
		parent, e.Concurrent,
	), nil
}

func (e *EachParallel) ResolveState(
	rc *runner.RunContext, parent *api.TaskRun,
) (api.StateType, bool, error) {
	children, err := e.ChildTasks(rc, parent)
	if err != nil {
		return "", false, err
	}
	st, ok := runner.ResolveState(
		rc.Execution(), children, runner.ResolveTasks(e.Errors, parent),
		parent, false,
	)
	return st, ok, nil
}

func validateEach(v EachValue, ts List) error {
	if v == "" {
		return ErrEachValueEmpty
	}
	if len(ts) == 0 {
		return ErrNoChildTasks
	}
	return nil
}
