// Package standalone runs every cascade component in a single process
package standalone

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/kode4food/timebox"
	"github.com/redis/go-redis/v9"

	"github.com/kode4food/cascade/internal/archive"
	"github.com/kode4food/cascade/internal/config"
	"github.com/kode4food/cascade/internal/executor"
	"github.com/kode4food/cascade/internal/queue"
	"github.com/kode4food/cascade/internal/repository"
	"github.com/kode4food/cascade/internal/storage"
	"github.com/kode4food/cascade/internal/trigger"
	"github.com/kode4food/cascade/internal/worker"
	"github.com/kode4food/cascade/pkg/api"
	"github.com/kode4food/cascade/pkg/log"
)

type (
	// Runner owns the queues, repositories, worker and executor of a
	// cascade process
	Runner struct {
		Queues     *queue.Queues
		Flows      *repository.Flows
		Executions repository.ExecutionStore
		Logs       repository.LogStore
		History    *repository.History
		Triggers   *trigger.Service
		Worker     *worker.Worker
		Executor   *executor.Executor
		Archive    *archive.BlobArchive

		redis     *redis.Client
		timebox   *timebox.Timebox
		receivers []stopper
		cancel    context.CancelFunc
	}

	stopper interface {
		Flush()
	}
)

var (
	ErrCreateFlows   = errors.New("failed to register flows")
	ErrCreateStorage = errors.New("failed to create condition storage")
	ErrCreateArchive = errors.New("failed to open execution archive")
	ErrCreateHistory = errors.New("failed to create execution history")
)

// New creates a Runner for the provided configuration and flows. Nothing
// runs until Start is called
func New(
	ctx context.Context, cfg *config.Config, flows ...*api.Flow,
) (*Runner, error) {
	repo, err := repository.NewFlows(flows...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCreateFlows, err)
	}

	r := &Runner{
		Queues: queue.NewQueues(),
		Flows:  repo,
	}

	store, err := r.conditionStorage(ctx, cfg)
	if err != nil {
		return nil, err
	}
	r.Triggers = trigger.NewService(store, nil)

	if cfg.ArchiveURL != "" {
		r.Archive, err = archive.NewBlobArchive(
			ctx, cfg.ArchiveURL, cfg.ArchivePrefix,
		)
		if err != nil {
			r.closeRedis()
			return nil, fmt.Errorf("%w: %w", ErrCreateArchive, err)
		}
	}

	if err := r.initializeIndex(cfg); err != nil {
		r.closeArchive()
		r.closeRedis()
		return nil, err
	}

	retry := cfg.Retry
	lvl, _ := log.ParseLevel(cfg.LogLevel)
	r.Worker = worker.New(r.Queues, worker.Config{
		Threads:  cfg.WorkerThreads,
		Timeout:  cfg.TaskTimeout,
		Retry:    &retry,
		LogLevel: lvl,
	})
	r.Executor = executor.New(r.Queues, r.Flows, r.Triggers, executor.Config{
		MaxCycles: cfg.MaxCycles,
	})
	return r, nil
}

func (r *Runner) initializeIndex(cfg *config.Config) error {
	if cfg.IndexStore != config.IndexStoreTimebox {
		r.Executions = repository.NewExecutions()
		r.Logs = repository.NewLogs()
		return nil
	}

	tb, err := timebox.NewTimebox(timebox.Config{
		MaxRetries: timebox.DefaultMaxRetries,
		CacheSize:  cfg.HistoryCache,
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCreateHistory, err)
	}

	storeCfg := cfg.HistoryStore
	if r.Archive != nil {
		storeCfg.Hibernator = r.Archive.Hibernator(
			archive.DefaultHibernatePrefix,
		)
	}
	store, err := tb.NewStore(storeCfg)
	if err != nil {
		_ = tb.Close()
		return fmt.Errorf("%w: %w", ErrCreateHistory, err)
	}

	r.timebox = tb
	r.History = repository.NewHistory(store)
	r.Executions = r.History
	r.Logs = r.History
	slog.Info("Execution history connected",
		slog.String("redis_addr", storeCfg.Addr),
		slog.String("prefix", storeCfg.Prefix),
		slog.Bool("hibernate", storeCfg.Hibernator != nil))
	return nil
}

func (r *Runner) conditionStorage(
	ctx context.Context, cfg *config.Config,
) (api.MultipleConditionStorage, error) {
	if cfg.ConditionStore != config.ConditionStoreRedis {
		return storage.NewMemory(), nil
	}

	r.redis = redis.NewClient(cfg.RedisOptions())
	if err := r.redis.Ping(ctx).Err(); err != nil {
		r.closeRedis()
		return nil, fmt.Errorf("%w: %w", ErrCreateStorage, err)
	}
	slog.Info("Condition storage connected",
		slog.String("redis_addr", cfg.Redis.Addr),
		slog.Int("redis_db", cfg.Redis.DB))
	return storage.NewRedis(r.redis, cfg.Redis.Prefix), nil
}

// Start runs the indexers, the archiver, the worker and the executor, in
// that order
func (r *Runner) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)

	r.receivers = append(r.receivers,
		r.Queues.Executions.Receive(r.indexExecution),
		r.Queues.Logs.Receive(r.indexLog),
	)
	if r.Archive != nil {
		archiver := archive.NewArchiver(r.Archive, r.Logs)
		r.receivers = append(r.receivers,
			r.Queues.Executions.Receive(archiver.Handle),
		)
	}

	r.Worker.Start(ctx)
	r.Executor.Start(ctx)
}

// Stop halts the executor and the worker, then flushes the indexers and
// closes every resource the Runner opened
func (r *Runner) Stop() {
	r.Executor.Stop()
	r.Worker.Stop()
	if r.cancel != nil {
		r.cancel()
	}
	for _, rec := range r.receivers {
		rec.Flush()
	}
	r.Queues.Close()

	r.closeTimebox()
	r.closeArchive()
	r.closeRedis()
}

func (r *Runner) closeTimebox() {
	if r.timebox == nil {
		return
	}
	if err := r.timebox.Close(); err != nil {
		slog.Warn("Failed to close execution history",
			log.Error(err))
	}
	r.timebox = nil
}

func (r *Runner) closeArchive() {
	if r.Archive == nil {
		return
	}
	if err := r.Archive.Close(); err != nil {
		slog.Warn("Failed to close archive",
			log.Error(err))
	}
}

func (r *Runner) closeRedis() {
	if r.redis == nil {
		return
	}
	if err := r.redis.Close(); err != nil {
		slog.Warn("Failed to close redis client",
			log.Error(err))
	}
	r.redis = nil
}

func (r *Runner) indexExecution(e *api.Execution) error {
	if err := r.Executions.Save(context.Background(), e); err != nil {
		slog.Error("Failed to index execution",
			log.ExecutionID(e.ID),
			log.Error(err))
		return err
	}
	return nil
}

func (r *Runner) indexLog(l *api.LogEntry) error {
	if err := r.Logs.Append(context.Background(), l); err != nil {
		slog.Error("Failed to index log entry",
			log.ExecutionID(l.ExecutionID),
			log.Error(err))
		return err
	}
	return nil
}
