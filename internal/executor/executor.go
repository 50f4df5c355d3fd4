// Package executor drives executions to completion. Every execution is
// owned by a single actor goroutine that reacts to execution, result, and
// kill messages and resolves what runs next
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/kode4food/cascade/internal/queue"
	"github.com/kode4food/cascade/internal/trigger"
	"github.com/kode4food/cascade/pkg/api"
	"github.com/kode4food/cascade/pkg/log"
)

type (
	// Executor routes queue messages to the actor owning each execution
	Executor struct {
		queues   *queue.Queues
		flows    api.FlowProvider
		triggers *trigger.Service
		config   Config
		ctx      context.Context
		cancel   context.CancelFunc
		actors   sync.Map // map[executionID]*actor

		executions *queue.Receiver[*api.Execution]
		results    *queue.Receiver[*api.WorkerTaskResult]
		kills      *queue.Receiver[*api.ExecutionKilled]

		wg        sync.WaitGroup
		startOnce sync.Once
		stopOnce  sync.Once
	}

	// Config controls the Executor
	Config struct {
		MaxCycles int
		InboxSize int
	}
)

const (
	DefaultMaxCycles = 1000
	DefaultInboxSize = 100
)

var (
	ErrCycleLimit       = errors.New("execution exceeded its cycle limit")
	ErrNotRestartable   = errors.New("execution is not terminated or paused")
	ErrNothingToRestart = errors.New("no task found to restart execution from")
)

// New creates an Executor over the provided queues
func New(
	qs *queue.Queues, flows api.FlowProvider, triggers *trigger.Service,
	cfg Config,
) *Executor {
	if cfg.MaxCycles < 1 {
		cfg.MaxCycles = DefaultMaxCycles
	}
	if cfg.InboxSize < 1 {
		cfg.InboxSize = DefaultInboxSize
	}
	return &Executor{
		queues:   qs,
		flows:    flows,
		triggers: triggers,
		config:   cfg,
	}
}

// Start subscribes to the execution, result, and kill queues
func (x *Executor) Start(ctx context.Context) {
	x.startOnce.Do(func() {
		x.ctx, x.cancel = context.WithCancel(ctx)
		x.executions = x.queues.Executions.Receive(x.onExecution)
		x.results = x.queues.Results.Receive(x.onResult)
		x.kills = x.queues.Kills.Receive(x.onKill)
		slog.Info("Executor started")
	})
}

// Stop halts every actor and waits for them to exit
func (x *Executor) Stop() {
	x.stopOnce.Do(func() {
		if x.cancel == nil {
			return
		}
		x.cancel()
		x.executions.Stop()
		x.results.Stop()
		x.kills.Stop()
		x.wg.Wait()
		slog.Info("Executor stopped")
	})
}

// Kill requests that an execution be killed. The owning actor moves it to
// KILLING and the worker cancels its running task runs
func (x *Executor) Kill(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	x.queues.Kills.Emit(&api.ExecutionKilled{ExecutionID: id})
	return nil
}

// Restart creates a restarted copy of a failed or paused execution and
// submits it
func (x *Executor) Restart(
	ctx context.Context, e *api.Execution,
) (*api.Execution, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := x.flows.FindByExecution(e)
	if err != nil {
		return nil, err
	}
	res, err := Restart(e, f)
	if err != nil {
		return nil, err
	}
	slog.Info("Execution restarted",
		log.ExecutionID(res.ID),
		slog.String("parent_id", e.ID))
	x.queues.Executions.Emit(res)
	return res, nil
}

// Active returns the number of executions currently owned by an actor
func (x *Executor) Active() int {
	res := 0
	x.actors.Range(func(_, _ any) bool {
		res++
		return true
	})
	return res
}

func (x *Executor) onExecution(e *api.Execution) error {
	if _, ok := x.actors.Load(e.ID); ok || !admissible(e) {
		return nil
	}
	a := x.newActor(e)
	if _, loaded := x.actors.LoadOrStore(e.ID, a); loaded {
		return nil
	}
	x.wg.Go(a.run)
	return nil
}

func (x *Executor) onResult(r *api.WorkerTaskResult) error {
	x.deliver(r.TaskRun.ExecutionID, &event{result: r.TaskRun})
	return nil
}

func (x *Executor) onKill(k *api.ExecutionKilled) error {
	x.deliver(k.ExecutionID, &event{kill: true})
	return nil
}

func (x *Executor) deliver(id string, ev *event) {
	if a, ok := x.actors.Load(id); ok && a.(*actor).send(ev) {
		return
	}
	slog.Debug("Dropped message for unknown execution",
		log.ExecutionID(id),
		slog.String("message", ev.String()))
}

// admissible reports whether an inbound execution starts a new actor. It
// must be brand new or freshly restarted. Anything else is a snapshot that
// an actor already published
func admissible(e *api.Execution) bool {
	switch e.State.Current {
	case api.StateCreated:
		return len(e.TaskRunList) == 0
	case api.StateRestarted:
		return true
	default:
		return false
	}
}

func (ev *event) String() string {
	switch {
	case ev.execution != nil:
		return "execution"
	case ev.result != nil:
		return fmt.Sprintf("result %s", ev.result.ID)
	default:
		return "kill"
	}
}
