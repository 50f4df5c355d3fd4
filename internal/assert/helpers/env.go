package helpers

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/kode4food/cascade/internal/executor"
	"github.com/kode4food/cascade/internal/queue"
	"github.com/kode4food/cascade/internal/repository"
	"github.com/kode4food/cascade/internal/storage"
	"github.com/kode4food/cascade/internal/trigger"
	"github.com/kode4food/cascade/internal/worker"
	"github.com/kode4food/cascade/pkg/api"
)

// TestEnv holds all the components needed for executor testing
type TestEnv struct {
	Queues   *queue.Queues
	Flows    *repository.Flows
	Redis    *miniredis.Miniredis
	Storage  *storage.Redis
	Triggers *trigger.Service
	Worker   *worker.Worker
	Executor *executor.Executor
	Cleanup  func()
}

// NewTestWorkerConfig returns a worker configuration with fast retries
func NewTestWorkerConfig() worker.Config {
	return worker.Config{
		Threads: 4,
		Timeout: 5 * time.Second,
		Retry: &api.RetryConfig{
			Type:     api.BackoffTypeFixed,
			Interval: time.Millisecond,
		},
	}
}

// NewTestEnv creates a started executor and worker over fresh queues. The
// multiple condition windows are kept in an in-memory Redis
func NewTestEnv(t *testing.T, flows ...*api.Flow) *TestEnv {
	t.Helper()

	server, err := miniredis.Run()
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	store := storage.NewRedis(client, "test-cascade")

	repo, err := repository.NewFlows(flows...)
	require.NoError(t, err)

	qs := queue.NewQueues()
	triggers := trigger.NewService(store, time.Now)
	w := worker.New(qs, NewTestWorkerConfig())
	x := executor.New(qs, repo, triggers, executor.Config{})

	ctx, cancel := context.WithCancel(context.Background())
	w.Start(ctx)
	x.Start(ctx)

	env := &TestEnv{
		Queues:   qs,
		Flows:    repo,
		Redis:    server,
		Storage:  store,
		Triggers: triggers,
		Worker:   w,
		Executor: x,
	}
	env.Cleanup = func() {
		x.Stop()
		w.Stop()
		cancel()
		qs.Close()
		_ = client.Close()
		server.Close()
	}
	t.Cleanup(env.Cleanup)
	return env
}
