package standalone_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kode4food/cascade/internal/assert/helpers"
	"github.com/kode4food/cascade/internal/config"
	"github.com/kode4food/cascade/internal/standalone"
	"github.com/kode4food/cascade/pkg/api"
)

const helloFlow = `
id: hello
namespace: io.test
inputs:
  - name: who
    default: world
tasks:
  - id: greet
    type: return
    format: "hello {{ inputs.who }}"
  - id: note
    type: log
    message: "greeted {{ inputs.who }}"
`

const failingFlow = `
id: failing
namespace: io.test
tasks:
  - id: boom
    type: fail
    errorMessage: nope
`

func testConfig() *config.Config {
	cfg := config.NewDefaultConfig()
	cfg.TaskTimeout = 5 * time.Second
	cfg.Retry.Interval = time.Millisecond
	cfg.Retry.MaxInterval = time.Millisecond
	return cfg
}

func startRunner(
	t *testing.T, cfg *config.Config, flows ...*api.Flow,
) *standalone.Runner {
	t.Helper()
	r, err := standalone.New(context.Background(), cfg, flows...)
	require.NoError(t, err)
	r.Start(context.Background())
	t.Cleanup(r.Stop)
	return r
}

func runFlow(
	t *testing.T, r *standalone.Runner, f *api.Flow, in map[string]any,
) *api.Execution {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	e, err := r.Run(ctx, f, in)
	require.NoError(t, err)
	return e
}

func TestRunSuccess(t *testing.T) {
	f := helpers.ParseFlow(t, helloFlow)
	r := startRunner(t, testConfig(), f)

	e := runFlow(t, r, f, map[string]any{"who": "cascade"})
	assert.Equal(t, api.StateSuccess, e.State.Current)

	out := e.Outputs()
	assert.Equal(t, "hello cascade", out["greet"].(map[string]any)["value"])

	assert.Eventually(t, func() bool {
		idx, err := r.Executions.FindByID(context.Background(), e.ID)
		return err == nil && idx.State.Current == api.StateSuccess
	}, time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool {
		logs, err := r.Logs.FindByExecution(context.Background(), e.ID)
		return err == nil && len(logs) > 0
	}, time.Second, 10*time.Millisecond)
	assert.Nil(t, r.History)
}

func TestRunFailure(t *testing.T) {
	f := helpers.ParseFlow(t, failingFlow)
	r := startRunner(t, testConfig(), f)

	e := runFlow(t, r, f, nil)
	assert.Equal(t, api.StateFailed, e.State.Current)
}

func TestRunMissingInput(t *testing.T) {
	f := helpers.ParseFlow(t, `
id: needy
namespace: io.test
inputs:
  - name: required
    required: true
tasks:
  - id: a
    type: return
    format: a
`)
	r := startRunner(t, testConfig(), f)

	_, err := r.Run(context.Background(), f, nil)
	assert.ErrorIs(t, err, api.ErrRequiredInput)
}

func TestRunContextDone(t *testing.T) {
	f := helpers.ParseFlow(t, `
id: slow
namespace: io.test
tasks:
  - id: nap
    type: sleep
    duration: 1m
`)
	r := startRunner(t, testConfig(), f)

	ctx, cancel := context.WithTimeout(
		context.Background(), 50*time.Millisecond,
	)
	defer cancel()
	e, err := r.Run(ctx, f, nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	require.NotNil(t, e)
	assert.False(t, e.State.IsTerminated())

	require.NoError(t, r.Executor.Kill(context.Background(), e.ID))
}

func TestRunWithArchive(t *testing.T) {
	f := helpers.ParseFlow(t, helloFlow)
	cfg := testConfig()
	cfg.ArchiveURL = "mem://"
	r := startRunner(t, cfg, f)

	e := runFlow(t, r, f, nil)
	assert.Eventually(t, func() bool {
		rec, err := r.Archive.Get(
			context.Background(), e.Namespace, e.FlowID, e.ID,
		)
		return err == nil && rec.Execution.State.Current == api.StateSuccess
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRunWithRedisConditions(t *testing.T) {
	server, err := miniredis.Run()
	require.NoError(t, err)
	defer server.Close()

	f := helpers.ParseFlow(t, helloFlow)
	cfg := testConfig()
	cfg.ConditionStore = config.ConditionStoreRedis
	cfg.Redis.Addr = server.Addr()
	r := startRunner(t, cfg, f)

	e := runFlow(t, r, f, nil)
	assert.Equal(t, api.StateSuccess, e.State.Current)
}

func TestNewUnreachableRedis(t *testing.T) {
	cfg := testConfig()
	cfg.ConditionStore = config.ConditionStoreRedis
	cfg.Redis.Addr = "127.0.0.1:1"

	_, err := standalone.New(context.Background(), cfg)
	assert.ErrorIs(t, err, standalone.ErrCreateStorage)
}

func TestNewBadArchive(t *testing.T) {
	cfg := testConfig()
	cfg.ArchiveURL = "nope://bucket"

	_, err := standalone.New(context.Background(), cfg)
	assert.ErrorIs(t, err, standalone.ErrCreateArchive)
}

func TestRunWithHistory(t *testing.T) {
	server, err := miniredis.Run()
	require.NoError(t, err)
	defer server.Close()

	f := helpers.ParseFlow(t, helloFlow)
	cfg := testConfig()
	cfg.IndexStore = config.IndexStoreTimebox
	cfg.HistoryStore.Addr = server.Addr()
	cfg.ArchiveURL = "mem://"
	r := startRunner(t, cfg, f)
	require.NotNil(t, r.History)

	e := runFlow(t, r, f, map[string]any{"who": "history"})
	assert.Equal(t, api.StateSuccess, e.State.Current)

	ctx := context.Background()
	assert.Eventually(t, func() bool {
		idx, err := r.Executions.FindByID(ctx, e.ID)
		return err == nil && idx.State.Current == api.StateSuccess
	}, 2*time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool {
		logs, err := r.Logs.FindByExecution(ctx, e.ID)
		return err == nil && len(logs) > 0
	}, 2*time.Second, 10*time.Millisecond)

	versions, err := r.History.Versions(ctx, e.ID)
	require.NoError(t, err)
	require.Greater(t, len(versions), 1)
	assert.Equal(t, api.StateSuccess, versions[len(versions)-1].State.Current)
}
