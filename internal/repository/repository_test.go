package repository_test

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kode4food/cascade/internal/assert/helpers"
	"github.com/kode4food/cascade/internal/repository"
	"github.com/kode4food/cascade/internal/tasks"
	"github.com/kode4food/cascade/pkg/api"
)

func flow(ns, id string, rev int) *api.Flow {
	return &api.Flow{
		ID:        id,
		Namespace: ns,
		Revision:  rev,
		Tasks: []api.Task{
			&tasks.Return{
				Base:   tasks.Base{ID: "ret", Type: tasks.TypeReturn},
				Format: "hello",
			},
		},
	}
}

func TestFlowRevisions(t *testing.T) {
	r, err := repository.NewFlows()
	require.NoError(t, err)

	first, err := r.Add(flow("io.test", "a", 0))
	require.NoError(t, err)
	assert.Equal(t, 1, first.Revision)

	second, err := r.Add(flow("io.test", "a", 0))
	require.NoError(t, err)
	assert.Equal(t, 2, second.Revision)

	latest, err := r.FindByID("io.test", "a", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, latest.Revision)

	rev := 1
	old, err := r.FindByID("io.test", "a", &rev)
	require.NoError(t, err)
	assert.Same(t, first, old)

	rev = 7
	_, err = r.FindByID("io.test", "a", &rev)
	assert.ErrorIs(t, err, api.ErrFlowNotFound)

	_, err = r.FindByID("io.test", "missing", nil)
	assert.ErrorIs(t, err, api.ErrFlowNotFound)
}

func TestFlowReplaceRevision(t *testing.T) {
	r, err := repository.NewFlows(flow("io.test", "a", 3))
	require.NoError(t, err)

	replaced := flow("io.test", "a", 3)
	replaced.Description = "replaced"
	_, err = r.Add(replaced)
	require.NoError(t, err)

	f, err := r.FindByID("io.test", "a", nil)
	require.NoError(t, err)
	assert.Equal(t, "replaced", f.Description)
}

func TestFlowInvalid(t *testing.T) {
	_, err := repository.NewFlows(&api.Flow{ID: "a", Namespace: "io.test"})
	assert.ErrorIs(t, err, api.ErrFlowNoTasks)
}

func TestFlowFindByExecution(t *testing.T) {
	r, err := repository.NewFlows(
		flow("io.test", "a", 1), flow("io.test", "a", 2),
	)
	require.NoError(t, err)

	e := &api.Execution{Namespace: "io.test", FlowID: "a", FlowRevision: 1}
	f, err := r.FindByExecution(e)
	require.NoError(t, err)
	assert.Equal(t, 1, f.Revision)

	e.FlowRevision = 0
	f, err = r.FindByExecution(e)
	require.NoError(t, err)
	assert.Equal(t, 2, f.Revision)
}

func TestFlowFindAll(t *testing.T) {
	r, err := repository.NewFlows(
		flow("io.test", "b", 1),
		flow("io.test", "a", 1),
		flow("io.test", "a", 2),
	)
	require.NoError(t, err)

	all := r.FindAll()
	require.Len(t, all, 2)
	assert.Equal(t, "io.test.a", all[0].UID())
	assert.Equal(t, 2, all[0].Revision)
	assert.Equal(t, "io.test.b", all[1].UID())
}

type stores struct {
	executions repository.ExecutionStore
	logs       repository.LogStore
}

func eachStore(t *testing.T, fn func(t *testing.T, s stores)) {
	t.Run("memory", func(t *testing.T) {
		fn(t, stores{
			executions: repository.NewExecutions(),
			logs:       repository.NewLogs(),
		})
	})
	t.Run("history", func(t *testing.T) {
		h := helpers.NewTestHistory(t)
		fn(t, stores{executions: h, logs: h})
	})
}

func startedAt(e *api.Execution, at time.Time) *api.Execution {
	res := *e
	res.State.Histories = []api.History{{State: e.State.Current, Date: at}}
	return &res
}

func TestExecutions(t *testing.T) {
	eachStore(t, func(t *testing.T, s stores) {
		ctx := context.Background()
		r := s.executions
		base := time.Now()
		a := startedAt(
			api.NewExecution(flow("io.test", "a", 1), nil, nil), base,
		)
		b := startedAt(
			api.NewExecution(flow("io.test", "b", 1), nil, nil),
			base.Add(time.Second),
		)

		require.NoError(t, r.Save(ctx, a))
		require.NoError(t, r.Save(ctx, b))
		require.NoError(t, r.Save(ctx, a.WithState(api.StateRunning)))

		got, err := r.FindByID(ctx, a.ID)
		require.NoError(t, err)
		assert.Equal(t, api.StateRunning, got.State.Current)

		all, err := r.FindAll(ctx)
		require.NoError(t, err)
		require.Len(t, all, 2)
		assert.Equal(t, a.ID, all[0].ID)
		assert.Equal(t, b.ID, all[1].ID)

		byFlow, err := r.FindByFlow(ctx, "io.test", "b")
		require.NoError(t, err)
		require.Len(t, byFlow, 1)
		assert.Equal(t, b.ID, byFlow[0].ID)

		_, err = r.FindByID(ctx, "missing")
		assert.ErrorIs(t, err, repository.ErrExecutionNotFound)
	})
}

func TestLogs(t *testing.T) {
	eachStore(t, func(t *testing.T, s stores) {
		ctx := context.Background()
		r := s.logs
		require.NoError(t, r.Append(ctx,
			&api.LogEntry{ExecutionID: "a", Message: "one"},
		))
		require.NoError(t, r.Append(ctx,
			&api.LogEntry{ExecutionID: "b", Message: "other"},
		))
		require.NoError(t, r.Append(ctx,
			&api.LogEntry{ExecutionID: "a", Message: "two"},
		))

		logs, err := r.FindByExecution(ctx, "a")
		require.NoError(t, err)
		require.Len(t, logs, 2)
		assert.Equal(t, "one", logs[0].Message)
		assert.Equal(t, "two", logs[1].Message)

		logs, err = r.FindByExecution(ctx, "missing")
		require.NoError(t, err)
		assert.Empty(t, logs)
	})
}

func TestHistoryVersions(t *testing.T) {
	ctx := context.Background()
	h := helpers.NewTestHistory(t)
	e := api.NewExecution(flow("io.test", "a", 1), nil, nil)

	require.NoError(t, h.Save(ctx, e))
	require.NoError(t, h.Append(ctx, &api.LogEntry{
		ExecutionID: e.ID, Message: "started",
	}))
	require.NoError(t, h.Save(ctx, e.WithState(api.StateRunning)))
	require.NoError(t, h.Save(ctx,
		e.WithState(api.StateRunning).WithState(api.StateSuccess),
	))

	versions, err := h.Versions(ctx, e.ID)
	require.NoError(t, err)
	require.Len(t, versions, 3)
	assert.Equal(t, api.StateCreated, versions[0].State.Current)
	assert.Equal(t, api.StateRunning, versions[1].State.Current)
	assert.Equal(t, api.StateSuccess, versions[2].State.Current)

	latest, err := h.FindByID(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, versions[2].ID, latest.ID)
	assert.Equal(t, versions[2].State.Current, latest.State.Current)

	_, err = h.Versions(ctx, "missing")
	assert.ErrorIs(t, err, repository.ErrExecutionNotFound)
}

func TestHistoryLogsOnly(t *testing.T) {
	ctx := context.Background()
	h := helpers.NewTestHistory(t)
	require.NoError(t, h.Append(ctx,
		&api.LogEntry{ExecutionID: "orphan", Message: "early"},
	))

	_, err := h.FindByID(ctx, "orphan")
	assert.ErrorIs(t, err, repository.ErrExecutionNotFound)

	all, err := h.FindAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestHistoryConcurrentWrites(t *testing.T) {
	ctx := context.Background()
	h := helpers.NewTestHistory(t)
	e := api.NewExecution(flow("io.test", "a", 1), nil, nil)
	require.NoError(t, h.Save(ctx, e))

	const writers = 5
	var wg sync.WaitGroup
	for i := range writers {
		wg.Go(func() {
			assert.NoError(t, h.Append(ctx, &api.LogEntry{
				ExecutionID: e.ID, Message: strconv.Itoa(i),
			}))
		})
	}
	wg.Wait()

	logs, err := h.FindByExecution(ctx, e.ID)
	require.NoError(t, err)
	assert.Len(t, logs, writers)

	got, err := h.FindByID(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, e.ID, got.ID)
}
