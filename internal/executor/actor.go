package executor

import (
	"log/slog"

	"github.com/kode4food/cascade/internal/tasks"
	"github.com/kode4food/cascade/pkg/api"
	"github.com/kode4food/cascade/pkg/log"
	"github.com/kode4food/cascade/pkg/util"
)

type (
	actor struct {
		*Executor
		id    string
		inbox chan *event
		done  chan struct{}

		initial    *api.Execution
		execution  *api.Execution
		emitted    *api.Execution
		flow       *api.Flow
		pending    []*api.TaskRun
		nexts      util.Set[string]
		dispatched map[string]api.StateType
		purged     bool
	}

	event struct {
		execution *api.Execution
		result    *api.TaskRun
		kill      bool
	}
)

func (x *Executor) newActor(e *api.Execution) *actor {
	return &actor{
		Executor:   x,
		id:         e.ID,
		inbox:      make(chan *event, x.config.InboxSize),
		done:       make(chan struct{}),
		initial:    e,
		nexts:      util.Set[string]{},
		dispatched: map[string]api.StateType{},
	}
}

func (a *actor) run() {
	defer close(a.done)
	defer a.actors.CompareAndDelete(a.id, a)

	a.handle(&event{execution: a.initial})
	for !a.purged {
		select {
		case ev := <-a.inbox:
			a.handle(ev)
		case <-a.ctx.Done():
			return
		}
	}
}

// send delivers an event unless the actor has already exited
func (a *actor) send(ev *event) bool {
	select {
	case a.inbox <- ev:
		return true
	case <-a.done:
		return false
	case <-a.ctx.Done():
		return false
	}
}

func (a *actor) handle(ev *event) {
	switch {
	case ev.execution != nil:
		a.load(ev.execution)
	case ev.result != nil:
		a.merge(ev.result)
	case ev.kill:
		a.kill()
	}
	a.process()
}

func (a *actor) load(e *api.Execution) {
	a.execution = e
	f, err := a.flows.FindByExecution(e)
	if err == nil {
		err = tasks.InjectTemplates(f, a.flows)
	}
	if err != nil {
		slog.Error("Failed to load flow",
			log.ExecutionID(e.ID),
			log.Namespace(e.Namespace),
			log.FlowID(e.FlowID),
			log.Error(err))
		a.fault("", err)
		return
	}
	a.flow = f
}

func (a *actor) kill() {
	e := a.execution
	if e.State.IsTerminated() || e.State.Current == api.StateKilling {
		return
	}
	a.execution = e.WithState(api.StateKilling)
	slog.Info("Execution killing", log.ExecutionID(a.id))
}

// process runs the pipeline until nothing changes, publishing every changed
// snapshot, then purges the actor once the execution and its listeners are
// done
func (a *actor) process() {
	for cycle := 0; a.flow != nil; cycle++ {
		if cycle == a.config.MaxCycles {
			slog.Error("Execution cycle limit reached",
				log.ExecutionID(a.id),
				slog.Int("cycles", cycle))
			a.fault("", ErrCycleLimit)
			break
		}
		if !a.step() {
			break
		}
		a.emit()
	}
	a.emit()
	if a.triggers.IsTerminatedWithListeners(a.ctx, a.flow, a.execution) {
		a.terminate()
	}
}

func (a *actor) emit() {
	if a.emitted == a.execution {
		return
	}
	a.emitted = a.execution
	a.queues.Executions.Emit(a.execution)
}

func (a *actor) terminate() {
	a.emit()
	flows := a.flows.FindAll()
	trig := a.triggers.ComputeExecutionsFromFlowTriggers(
		a.ctx, a.execution, flows,
	)
	for _, e := range trig {
		slog.Info("Flow triggered",
			log.ExecutionID(e.ID),
			log.Namespace(e.Namespace),
			log.FlowID(e.FlowID),
			slog.String("trigger_execution_id", a.id))
		a.queues.Executions.Emit(e)
	}
	a.purged = true
	slog.Info("Execution completed",
		log.ExecutionID(a.id),
		log.State(a.execution.State.Current),
		slog.Duration("duration", a.execution.State.Duration()))
}

// fault fails the offending task run, or the execution itself when there
// is none, and publishes the log entries describing the failure
func (a *actor) fault(taskRunID string, err error) {
	var res *api.FailedExecutionWithLog
	if taskRunID != "" {
		res = a.execution.FailTaskRunFromExecutor(taskRunID, err)
	} else {
		res = a.execution.FailedExecutionFromExecutor(err)
	}
	slog.Warn("Execution fault",
		log.ExecutionID(a.id),
		log.TaskRunID(taskRunID),
		log.Error(err))
	for _, l := range res.Logs {
		a.queues.Logs.Emit(l)
	}
	a.execution = res.Execution
}
