package tasks

import (
	"errors"

	"github.com/kode4food/cascade/internal/runner"
	"github.com/kode4food/cascade/pkg/api"
)

// Parallel starts all of its children at once, or at most Concurrent of
// them when Concurrent is positive
type Parallel struct {
	Base       `yaml:",inline"`
	Concurrent int  `yaml:"concurrent,omitempty"`
	Tasks      List `yaml:"tasks"`
	Errors     List `yaml:"errors,omitempty"`
}

const TypeParallel = "parallel"

var ErrNegativeConcurrency = errors.New("concurrent must not be negative")

var _ runner.Flowable = (*Parallel)(nil)

func init() {
	Register(TypeParallel, func() api.Task { return &Parallel{} })
}

func (*Parallel) TaskType() string { return TypeParallel }

func (p *Parallel) AllChildTasks() []api.Task {
	return childTasks(p.Tasks, p.Errors)
}

func (p *Parallel) ErrorTasks() []api.Task { return p.Errors }

func (p *Parallel) Validate() error {
	if len(p.Tasks) == 0 {
		return ErrNoChildTasks
	}
	if p.Concurrent < 0 {
		return ErrNegativeConcurrency
	}
	return nil
}

func (p *Parallel) ChildTasks(
	_ *runner.RunContext, parent *api.TaskRun,
) ([]*api.ResolvedTask, error) {
	return runner.ResolveTasks(p.Tasks, parent), nil
}

func (p *Parallel) ResolveNexts(
	rc *runner.RunContext, parent *api.TaskRun,
) ([]*api.TaskRun, error) {
	return runner.ResolveParallelNexts(
		rc.Execution(),
		runner.ResolveTasks(p.Tasks, parent),
		runner.ResolveTasks(p.Errors, parent),
		parent, p.Concurrent,
	), nil
}

func (p *Parallel) ResolveState(
	rc *runner.RunContext, parent *api.TaskRun,
) (api.StateType, bool, error) {
	st, ok := runner.ResolveState(
		rc.Execution(),
		runner.ResolveTasks(p.Tasks, parent),
		runner.ResolveTasks(p.Errors, parent),
		parent, false,
	)
	return st, ok, nil
}
