package tasks

import (
	"github.com/kode4food/cascade/internal/runner"
	"github.com/kode4food/cascade/pkg/api"
)

// AllowFailure runs its children sequentially and reports a failure of
// theirs as WARNING, so the enclosing container carries on
type AllowFailure struct {
	Sequential `yaml:",inline"`
}

const TypeAllowFailure = "allow-failure"

var _ runner.Flowable = (*AllowFailure)(nil)

func init() {
	Register(TypeAllowFailure, func() api.Task { return &AllowFailure{} })
}

func (*AllowFailure) TaskType() string { return TypeAllowFailure }

// ResolveState resolves the container twice: once with its error branch to
// learn whether it is settled, and once without it to learn whether the
// children failed. A failure is reported as WARNING
func (a *AllowFailure) ResolveState(
	rc *runner.RunContext, parent *api.TaskRun,
) (api.StateType, bool, error) {
	e := rc.Execution()
	children := runner.ResolveTasks(a.Tasks, parent)
	st, ok := runner.ResolveState(
		e, children, runner.ResolveTasks(a.Errors, parent), parent, false,
	)
	if !ok {
		return "", false, nil
	}
	raw, ok := runner.ResolveState(e, children, nil, parent, false)
	if ok && raw == api.StateFailed || st == api.StateFailed {
		return api.StateWarning, true, nil
	}
	return st, true, nil
}
