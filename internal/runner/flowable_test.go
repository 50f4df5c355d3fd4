package runner_test

import (
	"reflect"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/kode4food/cascade/internal/runner"
	"github.com/kode4food/cascade/pkg/api"
)

func TestResolveTasksPropagatesValue(t *testing.T) {
	parent := &api.TaskRun{ID: "p", Value: "v"}
	res := runner.ResolveTasks(tasks("a", "b"), parent)
	require.Len(t, res, 2)
	for _, rt := range res {
		assert.Equal(t, "p", rt.ParentID)
		assert.Equal(t, "v", rt.Value)
	}
	assert.Nil(t, runner.ResolveTasks(nil, parent))
}

func TestEachValues(t *testing.T) {
	res, err := runner.EachValues(`["a", 1, {"b": 2}, "a", true]`)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "1", `{"b":2}`, "true"}, res)

	_, err = runner.EachValues(`["a", null]`)
	assert.ErrorIs(t, err, runner.ErrEachNullValue)

	_, err = runner.EachValues(`{"a": 1}`)
	assert.ErrorIs(t, err, runner.ErrEachNotArray)

	_, err = runner.EachValues(`not json`)
	assert.ErrorIs(t, err, runner.ErrEachNotArray)

	_, err = runner.EachValues(`[""]`)
	assert.ErrorIs(t, err, runner.ErrEachEmptyValue)

	_, err = runner.EachValues(`["a", ""]`)
	assert.ErrorIs(t, err, runner.ErrEachEmptyValue)
}

func TestEmptyValueIsUnbound(t *testing.T) {
	ts := tasks("a")
	e := newExecution(ts...)
	unbound := api.ResolvedTasksOf(ts)[0]
	bound := &api.ResolvedTask{Task: ts[0], Value: "x"}
	e, tr := withRun(e, bound, api.StateRunning)

	assert.True(t, bound.IsTaskRunFor(tr, nil))
	assert.True(t, unbound.IsTaskRunFor(tr, nil))
	assert.False(t,
		(&api.ResolvedTask{Task: ts[0], Value: "y"}).IsTaskRunFor(tr, nil),
	)
	assert.Len(t, e.FindTaskRunByTasks([]*api.ResolvedTask{unbound}, nil), 1)
}

func TestResolveEachTasks(t *testing.T) {
	rc := runner.NewRunContextFromVariables(map[string]any{
		"vars": map[string]any{"items": []any{"x", "y"}},
	}, nil)
	parent := &api.TaskRun{ID: "p"}

	res, err := runner.ResolveEachTasks(
		rc, parent, tasks("a", "b"), "{{ vars.items }}",
	)
	require.NoError(t, err)
	require.Len(t, res, 4)
	assert.Equal(t, "x", res[0].Value)
	assert.Equal(t, "a", res[0].Task.TaskID())
	assert.Equal(t, "x", res[1].Value)
	assert.Equal(t, "b", res[1].Task.TaskID())
	assert.Equal(t, "y", res[2].Value)
	assert.Equal(t, "p", res[3].ParentID)

	_, err = runner.ResolveEachTasks(
		rc, parent, tasks("a"), "{{ vars.missing }}",
	)
	assert.Error(t, err)
}

func TestResolveSequentialNexts(t *testing.T) {
	ts := tasks("a", "b")
	e := newExecution(ts...)
	resolved := api.ResolvedTasksOf(ts)

	nexts := runner.ResolveSequentialNexts(e, resolved, nil, nil)
	require.Len(t, nexts, 1)
	assert.Equal(t, "a", nexts[0].TaskID)

	e, a := withRun(e, resolved[0], api.StateCreated)
	assert.Empty(t, runner.ResolveSequentialNexts(e, resolved, nil, nil))

	e = e.WithTaskRunList([]*api.TaskRun{
		a.WithState(api.StateRunning),
	})
	assert.Empty(t, runner.ResolveSequentialNexts(e, resolved, nil, nil))

	e = e.WithTaskRunList([]*api.TaskRun{
		a.WithState(api.StateRunning).WithState(api.StateSuccess),
	})
	nexts = runner.ResolveSequentialNexts(e, resolved, nil, nil)
	require.Len(t, nexts, 1)
	assert.Equal(t, "b", nexts[0].TaskID)

	e, _ = withRun(e, resolved[1], api.StateSuccess)
	assert.Empty(t, runner.ResolveSequentialNexts(e, resolved, nil, nil))
}

func TestResolveSequentialNextsErrorBranch(t *testing.T) {
	ts := tasks("a", "b")
	errs := api.ResolvedTasksOf(tasks("on-error"))
	e := newExecution(ts...)
	resolved := api.ResolvedTasksOf(ts)

	e, _ = withRun(e, resolved[0], api.StateFailed)
	nexts := runner.ResolveSequentialNexts(e, resolved, errs, nil)
	require.Len(t, nexts, 1)
	assert.Equal(t, "on-error", nexts[0].TaskID)

	assert.Empty(t, runner.ResolveSequentialNexts(e, resolved, nil, nil))
}

func TestResolveSequentialNextsKilling(t *testing.T) {
	ts := tasks("a")
	e := newExecution(ts...).WithState(api.StateRunning)
	e = e.WithState(api.StateKilling)
	assert.Empty(t, runner.ResolveSequentialNexts(
		e, api.ResolvedTasksOf(ts), nil, nil,
	))
}

func TestResolveSequentialNextsSkipsDisabled(t *testing.T) {
	ts := []api.Task{
		&stubTask{id: "a", disabled: true},
		&stubTask{id: "b"},
	}
	e := newExecution(ts...)
	nexts := runner.ResolveSequentialNexts(
		e, api.ResolvedTasksOf(ts), nil, nil,
	)
	require.Len(t, nexts, 1)
	assert.Equal(t, "b", nexts[0].TaskID)
}

func TestResolveParallelNexts(t *testing.T) {
	ts := tasks("a", "b", "c")
	e := newExecution(ts...)
	resolved := api.ResolvedTasksOf(ts)

	nexts := runner.ResolveParallelNexts(e, resolved, nil, nil, 0)
	assert.Len(t, nexts, 3)

	nexts = runner.ResolveParallelNexts(e, resolved, nil, nil, 2)
	require.Len(t, nexts, 2)
	assert.Equal(t, "a", nexts[0].TaskID)
	assert.Equal(t, "b", nexts[1].TaskID)

	e, _ = withRun(e, resolved[0], api.StateRunning)
	nexts = runner.ResolveParallelNexts(e, resolved, nil, nil, 2)
	require.Len(t, nexts, 1)
	assert.Equal(t, "b", nexts[0].TaskID)

	e, _ = withRun(e, resolved[1], api.StateRunning)
	assert.Empty(t, runner.ResolveParallelNexts(e, resolved, nil, nil, 2))

	e, _ = withRun(e, resolved[2], api.StateCreated)
	assert.Empty(t, runner.ResolveParallelNexts(e, resolved, nil, nil, 0))
}

func TestResolveParallelNextsRespectsConcurrency(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		count := rapid.IntRange(1, 10).Draw(t, "count")
		running := rapid.IntRange(0, count).Draw(t, "running")
		concurrency := rapid.IntRange(0, 5).Draw(t, "concurrency")

		ids := make([]string, count)
		for i := range ids {
			ids[i] = rapid.StringMatching(`[a-z]{6}`).Draw(t, "id") +
				string(rune('a'+i))
		}
		ts := tasks(ids...)
		e := newExecution(ts...)
		resolved := api.ResolvedTasksOf(ts)
		for i := range running {
			e, _ = withRun(e, resolved[i], api.StateRunning)
		}

		nexts := runner.ResolveParallelNexts(
			e, resolved, nil, nil, concurrency,
		)
		want := count - running
		if concurrency > 0 {
			want = max(0, min(want, concurrency-running))
		}
		if len(nexts) != want {
			t.Fatalf("expected %d nexts, got %d", want, len(nexts))
		}
	})
}

func TestResolveState(t *testing.T) {
	ts := tasks("a", "b")
	resolved := api.ResolvedTasksOf(ts)
	errs := api.ResolvedTasksOf(tasks("on-error"))

	t.Run("empty", func(t *testing.T) {
		st, ok := runner.ResolveState(newExecution(), nil, nil, nil, false)
		assert.True(t, ok)
		assert.Equal(t, api.StateSuccess, st)

		st, ok = runner.ResolveState(
			newExecution(), []*api.ResolvedTask{}, errs, nil, false,
		)
		assert.True(t, ok)
		assert.Equal(t, api.StateSuccess, st)
	})

	t.Run("all disabled", func(t *testing.T) {
		off := []api.Task{&stubTask{id: "off", disabled: true}}
		e := newExecution(off...)
		st, ok := runner.ResolveState(
			e, api.ResolvedTasksOf(off), errs, nil, false,
		)
		assert.True(t, ok)
		assert.Equal(t, api.StateSuccess, st)
	})

	t.Run("pending", func(t *testing.T) {
		e := newExecution(ts...)
		e, _ = withRun(e, resolved[0], api.StateSuccess)
		_, ok := runner.ResolveState(e, resolved, nil, nil, false)
		assert.False(t, ok)
	})

	t.Run("success", func(t *testing.T) {
		e := newExecution(ts...)
		e, _ = withRun(e, resolved[0], api.StateSuccess)
		e, _ = withRun(e, resolved[1], api.StateSuccess)
		st, ok := runner.ResolveState(e, resolved, nil, nil, false)
		assert.True(t, ok)
		assert.Equal(t, api.StateSuccess, st)
	})

	t.Run("warning", func(t *testing.T) {
		e := newExecution(ts...)
		e, _ = withRun(e, resolved[0], api.StateWarning)
		e, _ = withRun(e, resolved[1], api.StateSuccess)
		st, ok := runner.ResolveState(e, resolved, nil, nil, false)
		assert.True(t, ok)
		assert.Equal(t, api.StateWarning, st)
	})

	t.Run("failed without errors", func(t *testing.T) {
		e := newExecution(ts...)
		e, _ = withRun(e, resolved[0], api.StateFailed)
		st, ok := runner.ResolveState(e, resolved, nil, nil, false)
		assert.True(t, ok)
		assert.Equal(t, api.StateFailed, st)
	})

	t.Run("failed with pending errors", func(t *testing.T) {
		e := newExecution(ts...)
		e, _ = withRun(e, resolved[0], api.StateFailed)
		_, ok := runner.ResolveState(e, resolved, errs, nil, false)
		assert.False(t, ok)
	})

	t.Run("failed with handled errors", func(t *testing.T) {
		e := newExecution(ts...)
		e, _ = withRun(e, resolved[0], api.StateFailed)
		e, _ = withRun(e, errs[0], api.StateSuccess)
		st, ok := runner.ResolveState(e, resolved, errs, nil, false)
		assert.True(t, ok)
		assert.Equal(t, api.StateFailed, st)
	})

	t.Run("allow failure", func(t *testing.T) {
		e := newExecution(ts...)
		e, _ = withRun(e, resolved[0], api.StateFailed)
		st, ok := runner.ResolveState(e, resolved, nil, nil, true)
		assert.True(t, ok)
		assert.Equal(t, api.StateWarning, st)
	})

	t.Run("killed", func(t *testing.T) {
		e := newExecution(ts...)
		e, _ = withRun(e, resolved[0], api.StateKilled)
		st, ok := runner.ResolveState(e, resolved, nil, nil, true)
		assert.True(t, ok)
		assert.Equal(t, api.StateKilled, st)
	})
}

var drawnStates = []api.StateType{
	"", api.StateCreated, api.StateRunning, api.StateSuccess,
	api.StateWarning, api.StateFailed, api.StateKilled,
}

type resolution struct {
	Sequential []string
	Parallel   []string
	State      api.StateType
	Resolved   bool
}

func resolve(
	e *api.Execution, resolved, errs []*api.ResolvedTask, parent *api.TaskRun,
	concurrency int, allowFailure bool,
) resolution {
	st, ok := runner.ResolveState(e, resolved, errs, parent, allowFailure)
	return resolution{
		Sequential: runKeys(
			runner.ResolveSequentialNexts(e, resolved, errs, parent),
		),
		Parallel: runKeys(runner.ResolveParallelNexts(
			e, resolved, errs, parent, concurrency,
		)),
		State:    st,
		Resolved: ok,
	}
}

// runKeys identifies task runs by what they run, as new ids are generated
// on every resolution
func runKeys(trs []*api.TaskRun) []string {
	res := make([]string, 0, len(trs))
	for _, tr := range trs {
		res = append(res, tr.TaskID+"/"+tr.Value+"/"+tr.ParentTaskRunID)
	}
	return res
}

func TestResolutionIsDeterministic(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		count := rapid.IntRange(0, 6).Draw(t, "count")
		errCount := rapid.IntRange(0, 2).Draw(t, "errors")
		concurrency := rapid.IntRange(0, 3).Draw(t, "concurrency")
		allowFailure := rapid.Bool().Draw(t, "allowFailure")

		ts := make([]api.Task, 0, count)
		for i := range count {
			ts = append(ts, &stubTask{
				id:       string(rune('a' + i)),
				disabled: rapid.IntRange(0, 5).Draw(t, "disabled") == 0,
			})
		}
		es := make([]api.Task, 0, errCount)
		for i := range errCount {
			es = append(es, &stubTask{id: "err-" + string(rune('a'+i))})
		}

		e := newExecution(ts...).WithState(api.StateRunning)
		parent := &api.TaskRun{ID: "parent", TaskID: "container"}
		resolved := runner.ResolveTasks(ts, parent)
		errs := runner.ResolveTasks(es, parent)
		for _, rt := range slices.Concat(resolved, errs) {
			st := rapid.SampledFrom(drawnStates).Draw(t, "state")
			if st == "" {
				continue
			}
			tr := rt.ToTaskRun(e)
			tr.State = api.NewStateOf(st)
			e = e.WithNewTaskRuns(tr)
		}

		first := resolve(e, resolved, errs, parent, concurrency, allowFailure)
		second := resolve(e, resolved, errs, parent, concurrency, allowFailure)
		if !reflect.DeepEqual(first, second) {
			t.Fatalf("resolution changed between calls: %+v then %+v",
				first, second)
		}
	})
}
