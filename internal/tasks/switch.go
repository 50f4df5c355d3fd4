package tasks

import (
	"errors"
	"maps"
	"slices"

	"github.com/kode4food/cascade/internal/runner"
	"github.com/kode4food/cascade/pkg/api"
)

// Switch renders its value and runs the case whose key matches it exactly,
// or the defaults when no case does
type Switch struct {
	Base     `yaml:",inline"`
	Value    string          `yaml:"value"`
	Cases    map[string]List `yaml:"cases,omitempty"`
	Defaults List            `yaml:"defaults,omitempty"`
	Errors   List            `yaml:"errors,omitempty"`
}

const TypeSwitch = "switch"

var (
	ErrSwitchValueEmpty = errors.New("switch value empty")
	ErrSwitchNoBranches = errors.New("switch has no cases or defaults")
)

var (
	_ runner.Flowable       = (*Switch)(nil)
	_ runner.OutputProvider = (*Switch)(nil)
)

func init() {
	Register(TypeSwitch, func() api.Task { return &Switch{} })
}

func (*Switch) TaskType() string { return TypeSwitch }

// AllChildTasks returns the tasks of every case, ordered by case key,
// followed by the defaults and the error branch
func (s *Switch) AllChildTasks() []api.Task {
	var res []api.Task
	for _, k := range slices.Sorted(maps.Keys(s.Cases)) {
		res = append(res, s.Cases[k]...)
	}
	return childTasks(res, s.Defaults, s.Errors)
}

func (s *Switch) ErrorTasks() []api.Task { return s.Errors }

func (s *Switch) Validate() error {
	if s.Value == "" {
		return ErrSwitchValueEmpty
	}
	if len(s.Cases) == 0 && len(s.Defaults) == 0 {
		return ErrSwitchNoBranches
	}
	return nil
}

func (s *Switch) ChildTasks(
	rc *runner.RunContext, parent *api.TaskRun,
) ([]*api.ResolvedTask, error) {
	branch, _, err := s.branch(rc)
	if err != nil {
		return nil, err
	}
	if branch == nil {
		return []*api.ResolvedTask{}, nil
	}
	return runner.ResolveTasks(branch, parent), nil
}

func (s *Switch) ResolveNexts(
	rc *runner.RunContext, parent *api.TaskRun,
) ([]*api.TaskRun, error) {
	children, err := s.ChildTasks(rc, parent)
	if err != nil {
		return nil, err
	}
	return runner.ResolveSequentialNexts(
		rc.Execution(), children, runner.ResolveTasks(s.Errors, parent),
		parent,
	), nil
}

func (s *Switch) ResolveState(
	rc *runner.RunContext, parent *api.TaskRun,
) (api.StateType, bool, error) {
	children, err := s.ChildTasks(rc, parent)
	if err != nil {
		return "", false, err
	}
	st, ok := runner.ResolveState(
		rc.Execution(), children, runner.ResolveTasks(s.Errors, parent),
		parent, false,
	)
	return st, ok, nil
}

// Outputs publishes the rendered value and whether the defaults were taken
func (s *Switch) Outputs(
	rc *runner.RunContext, _ *api.TaskRun,
) (map[string]any, error) {
	_, value, err := s.branch(rc)
	if err != nil {
		return nil, err
	}
	_, matched := s.Cases[value]
	return map[string]any{
		"value":    value,
		"defaults": !matched,
	}, nil
}

func (s *Switch) branch(rc *runner.RunContext) (List, string, error) {
	value, err := rc.Render(s.Value)
	if err != nil {
		return nil, "", err
	}
	if branch, ok := s.Cases[value]; ok {
		return branch, value, nil
	}
	return s.Defaults, value, nil
}
