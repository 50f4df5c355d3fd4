package standalone

import (
	"context"
	"errors"
	"log/slog"

	"github.com/kode4food/cascade/pkg/api"
	"github.com/kode4food/cascade/pkg/log"
)

var ErrQueueClosed = errors.New("execution queue closed")

// Submit creates an execution of the flow and emits it
func (r *Runner) Submit(
	f *api.Flow, inputs map[string]any,
) (*api.Execution, error) {
	resolved, err := f.ResolveInputs(inputs)
	if err != nil {
		return nil, err
	}
	e := api.NewExecution(f, resolved, nil)
	slog.Info("Execution submitted",
		log.Namespace(f.Namespace),
		log.FlowID(f.ID),
		log.ExecutionID(e.ID))
	r.Queues.Executions.Emit(e)
	return e, nil
}

// Run submits an execution of the flow and waits until it, and every
// listener it runs, has terminated. When ctx ends first the last snapshot
// seen is returned with the context's error
func (r *Runner) Run(
	ctx context.Context, f *api.Flow, inputs map[string]any,
) (*api.Execution, error) {
	cons := r.Queues.Executions.Subscribe()
	defer cons.Close()

	e, err := r.Submit(f, inputs)
	if err != nil {
		return nil, err
	}

	last := e
	for {
		select {
		case <-ctx.Done():
			return last, ctx.Err()
		case snap, ok := <-cons.Receive():
			if !ok {
				return last, ErrQueueClosed
			}
			if snap.ID != e.ID {
				continue
			}
			last = snap
			if r.done(ctx, f, snap) {
				return snap, nil
			}
		}
	}
}

func (r *Runner) done(
	ctx context.Context, f *api.Flow, e *api.Execution,
) bool {
	if !e.State.IsTerminated() || e.FindLastNotTerminated() != nil {
		return false
	}
	return r.Triggers.IsTerminatedWithListeners(ctx, f, e)
}
