package tasks

import (
	"github.com/kode4food/cascade/internal/runner"
	"github.com/kode4food/cascade/pkg/api"
)

// Sequential runs its children one after the other
type Sequential struct {
	Base   `yaml:",inline"`
	Tasks  List `yaml:"tasks"`
	Errors List `yaml:"errors,omitempty"`
}

const TypeSequential = "sequential"

var _ runner.Flowable = (*Sequential)(nil)

func init() {
	Register(TypeSequential, func() api.Task { return &Sequential{} })
}

func (*Sequential) TaskType() string { return TypeSequential }

func (s *Sequential) AllChildTasks() []api.Task {
	return childTasks(s.Tasks, s.Errors)
}

func (s *Sequential) ErrorTasks() []api.Task { return s.Errors }

func (s *Sequential) Validate() error {
	if len(s.Tasks) == 0 {
		return ErrNoChildTasks
	}
	return nil
}

func (s *Sequential) ChildTasks(
	_ *runner.RunContext, parent *api.TaskRun,
) ([]*api.ResolvedTask, error) {
	return runner.ResolveTasks(s.Tasks, parent), nil
}

func (s *Sequential) ResolveNexts(
	rc *runner.RunContext, parent *api.TaskRun,
) ([]*api.TaskRun, error) {
	return runner.ResolveSequentialNexts(
		rc.Execution(),
		runner.ResolveTasks(s.Tasks, parent),
		runner.ResolveTasks(s.Errors, parent),
		parent,
	), nil
}

func (s *Sequential) ResolveState(
	rc *runner.RunContext, parent *api.TaskRun,
) (api.StateType, bool, error) {
	st, ok := runner.ResolveState(
		rc.Execution(),
		runner.ResolveTasks(s.Tasks, parent),
		runner.ResolveTasks(s.Errors, parent),
		parent, false,
	)
	return st, ok, nil
}
