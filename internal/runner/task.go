package runner

import (
	"context"

	"github.com/kode4food/cascade/pkg/api"
)

type (
	// Flowable is a container task. It owns child tasks and an optional
	// error branch and decides when its children start and how its own
	// state is derived from theirs
	Flowable interface {
		api.Parent
		api.ErrorHandler
		ChildTasks(
			rc *RunContext, parent *api.TaskRun,
		) ([]*api.ResolvedTask, error)
		ResolveNexts(
			rc *RunContext, parent *api.TaskRun,
		) ([]*api.TaskRun, error)
		ResolveState(
			rc *RunContext, parent *api.TaskRun,
		) (api.StateType, bool, error)
	}

	// OutputProvider is implemented by flowables that publish outputs as
	// soon as their task run starts
	OutputProvider interface {
		Outputs(rc *RunContext, parent *api.TaskRun) (map[string]any, error)
	}

	// Runnable is a leaf task executed by the worker
	Runnable interface {
		api.Task
		Run(ctx context.Context, rc *RunContext) (map[string]any, error)
	}
)

// IsFlowable reports whether the task is a container
func IsFlowable(t api.Task) bool {
	_, ok := t.(Flowable)
	return ok
}
