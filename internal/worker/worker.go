// Package worker runs the runnable tasks the executor dispatches and
// reports their task runs back as results
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kode4food/caravan/topic"

	"github.com/kode4food/cascade/internal/queue"
	"github.com/kode4food/cascade/internal/runner"
	"github.com/kode4food/cascade/internal/util"
	"github.com/kode4food/cascade/pkg/api"
	"github.com/kode4food/cascade/pkg/log"
)

type (
	// Worker consumes WorkerTasks and runs them on a fixed number of
	// goroutines
	Worker struct {
		queues  *queue.Queues
		config  Config
		tasks   chan *api.WorkerTask
		cons    topic.Consumer[*api.WorkerTask]
		kills   *queue.Receiver[*api.ExecutionKilled]
		killed  *util.LRUCache[struct{}]
		stop    chan struct{}
		cancel  context.CancelCauseFunc
		mu      sync.Mutex
		running map[string]map[string]context.CancelCauseFunc

		wg        sync.WaitGroup
		startOnce sync.Once
		stopOnce  sync.Once
	}

	// Config controls the Worker
	Config struct {
		Threads  int
		Timeout  time.Duration
		Retry    *api.RetryConfig
		LogLevel slog.Level
	}
)

const (
	DefaultThreads = 4

	killedExecutionsSize = 1024
)

var (
	ErrKilled        = errors.New("task run killed")
	ErrWorkerStopped = errors.New("worker stopped")
	ErrNotRunnable   = errors.New("task is not runnable")
	ErrTaskTimeout   = errors.New("task timed out")
	ErrTaskPanicked  = errors.New("task panicked")
)

// New creates a Worker over the provided queues
func New(qs *queue.Queues, cfg Config) *Worker {
	if cfg.Threads < 1 {
		cfg.Threads = DefaultThreads
	}
	return &Worker{
		queues:  qs,
		config:  cfg,
		tasks:   make(chan *api.WorkerTask),
		killed:  util.NewLRUCache[struct{}](killedExecutionsSize),
		stop:    make(chan struct{}),
		running: map[string]map[string]context.CancelCauseFunc{},
	}
}

// Start subscribes to the worker task and kill queues and begins running
// tasks
func (w *Worker) Start(ctx context.Context) {
	w.startOnce.Do(func() {
		ctx, w.cancel = context.WithCancelCause(ctx)
		w.cons = w.queues.WorkerTasks.Subscribe()
		w.kills = w.queues.Kills.Receive(w.kill)

		w.wg.Go(w.dispatch)
		for range w.config.Threads {
			w.wg.Go(func() {
				for {
					select {
					case <-w.stop:
						return
					case wt := <-w.tasks:
						w.Run(ctx, wt)
					}
				}
			})
		}
		slog.Info("Worker started",
			slog.Int("threads", w.config.Threads))
	})
}

// Stop cancels running tasks and waits for the Worker goroutines to exit
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		close(w.stop)
		if w.cancel != nil {
			w.cancel(ErrWorkerStopped)
		}
		w.wg.Wait()
		if w.kills != nil {
			w.kills.Stop()
		}
		if w.cons != nil {
			w.cons.Close()
		}
		slog.Info("Worker stopped")
	})
}

func (w *Worker) dispatch() {
	for {
		select {
		case <-w.stop:
			return
		case wt, ok := <-w.cons.Receive():
			if !ok {
				return
			}
			select {
			case w.tasks <- wt:
			case <-w.stop:
				return
			}
		}
	}
}

// Run executes a WorkerTask, retrying failed attempts as its retry policy
// allows. Every attempt is reported as a RUNNING result, followed by the
// terminal result, which is also returned
func (w *Worker) Run(ctx context.Context, wt *api.WorkerTask) *api.TaskRun {
	tr := wt.TaskRun
	if _, ok := w.killed.Peek(tr.ExecutionID); ok {
		return w.finish(tr.WithState(api.StateKilled))
	}
	r, ok := wt.Task.(runner.Runnable)
	if !ok {
		err := fmt.Errorf("%w: %s", ErrNotRunnable, tr.TaskID)
		w.queues.Logs.Emit(api.LogEntryOfTaskRun(tr, api.LevelError, err))
		return w.finish(tr.WithState(api.StateFailed))
	}

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	release := w.track(tr, cancel)
	defer release()

	retry := w.retryPolicy(r)
	attempts := maxAttempts(retry)
	tr = tr.WithState(api.StateRunning)
	for n := 0; ; n++ {
		tr = tr.WithAttempt(api.NewAttempt(api.StateRunning))
		w.queues.Results.Emit(api.NewWorkerTaskResult(tr))

		outputs, err := w.attempt(ctx, r, wt, tr)
		if err == nil {
			tr = tr.WithLastAttemptState(api.StateSuccess).
				WithOutputs(outputs).
				WithState(api.StateSuccess)
			break
		}
		if errors.Is(context.Cause(ctx), ErrKilled) {
			tr = tr.WithLastAttemptState(api.StateKilled).
				WithState(api.StateKilled)
			break
		}

		w.queues.Logs.Emit(api.LogEntryOfTaskRun(tr, api.LevelError, err))
		tr = tr.WithLastAttemptState(api.StateFailed)
		if n+1 >= attempts {
			tr = tr.WithState(api.StateFailed)
			break
		}

		delay := RetryDelay(retry, n)
		slog.Debug("Retrying task run",
			log.ExecutionID(tr.ExecutionID),
			log.TaskRunID(tr.ID),
			log.Attempt(n+1),
			slog.Duration("delay", delay))
		if !sleep(ctx, delay) {
			if errors.Is(context.Cause(ctx), ErrKilled) {
				tr = tr.WithState(api.StateKilled)
			} else {
				tr = tr.WithState(api.StateFailed)
			}
			break
		}
	}
	return w.finish(tr)
}

func (w *Worker) attempt(
	ctx context.Context, r runner.Runnable, wt *api.WorkerTask,
	tr *api.TaskRun,
) (outputs map[string]any, err error) {
	timeout := w.config.Timeout
	if t, ok := r.(api.Timeoutable); ok && t.TaskTimeout() > 0 {
		timeout = t.TaskTimeout()
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%w: %v", ErrTaskPanicked, rec)
		}
	}()

	logger := newTaskLogger(w.queues.Logs, tr, w.config.LogLevel)
	rc := runner.NewRunContextFromVariables(wt.Variables, logger)
	outputs, err = r.Run(ctx, rc)
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return nil, fmt.Errorf("%w after %s", ErrTaskTimeout, timeout)
	}
	return outputs, err
}

func (w *Worker) finish(tr *api.TaskRun) *api.TaskRun {
	w.queues.Results.Emit(api.NewWorkerTaskResult(tr))
	slog.Debug("Task run finished",
		log.ExecutionID(tr.ExecutionID),
		log.TaskRunID(tr.ID),
		log.TaskID(tr.TaskID),
		log.State(tr.State.Current))
	return tr
}

func (w *Worker) retryPolicy(r runner.Runnable) *api.RetryConfig {
	if rt, ok := r.(api.Retryable); ok && rt.RetryPolicy() != nil {
		return rt.RetryPolicy().WithDefaults(w.config.Retry)
	}
	if w.config.Retry != nil {
		return w.config.Retry.WithDefaults(nil)
	}
	return &api.RetryConfig{}
}

func (w *Worker) track(
	tr *api.TaskRun, cancel context.CancelCauseFunc,
) func() {
	w.mu.Lock()
	defer w.mu.Unlock()
	runs, ok := w.running[tr.ExecutionID]
	if !ok {
		runs = map[string]context.CancelCauseFunc{}
		w.running[tr.ExecutionID] = runs
	}
	runs[tr.ID] = cancel
	return func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		delete(runs, tr.ID)
		if len(runs) == 0 {
			delete(w.running, tr.ExecutionID)
		}
	}
}

func (w *Worker) kill(msg *api.ExecutionKilled) error {
	_, _ = w.killed.Get(msg.ExecutionID, func() (struct{}, error) {
		return struct{}{}, nil
	})
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, cancel := range w.running[msg.ExecutionID] {
		cancel(ErrKilled)
	}
	slog.Info("Execution killed on worker",
		log.ExecutionID(msg.ExecutionID),
		slog.Int("running", len(w.running[msg.ExecutionID])))
	return nil
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
