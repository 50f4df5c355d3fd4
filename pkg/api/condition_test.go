package api_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/kode4food/cascade/pkg/api"
)

type stubMultiple struct {
	window  time.Duration
	advance time.Duration
	keys    []string
}

func (m *stubMultiple) ConditionType() string { return "multiple" }
func (m *stubMultiple) ConditionID() string   { return "cond" }

func (m *stubMultiple) Test(
	context.Context, *api.ConditionContext,
) (bool, error) {
	return false, nil
}

func (m *stubMultiple) Window() time.Duration        { return m.window }
func (m *stubMultiple) WindowAdvance() time.Duration { return m.advance }

func (m *stubMultiple) Conditions() map[string]api.Condition {
	res := map[string]api.Condition{}
	for _, k := range m.keys {
		res[k] = nil
	}
	return res
}

func TestWindowBounds(t *testing.T) {
	now := time.Date(2024, 5, 10, 14, 35, 0, 0, time.UTC)

	start, end := api.WindowBounds(time.Hour, 0, now)
	assert.Equal(t, time.Date(2024, 5, 10, 14, 0, 0, 0, time.UTC), start)
	assert.Equal(t, time.Date(2024, 5, 10, 15, 0, 0, 0, time.UTC), end)

	start, end = api.WindowBounds(24*time.Hour, 0, now)
	assert.Equal(t, time.Date(2024, 5, 10, 0, 0, 0, 0, time.UTC), start)
	assert.Equal(t, time.Date(2024, 5, 11, 0, 0, 0, 0, time.UTC), end)

	start, _ = api.WindowBounds(24*time.Hour, 16*time.Hour, now)
	assert.Equal(t, time.Date(2024, 5, 9, 16, 0, 0, 0, time.UTC), start)

	start, end = api.WindowBounds(0, 0, now)
	assert.Equal(t, 24*time.Hour, end.Sub(start))
}

func TestWindowWithKeepsTrueResults(t *testing.T) {
	mc := &stubMultiple{window: time.Hour, keys: []string{"a", "b"}}
	now := time.Date(2024, 5, 10, 14, 35, 0, 0, time.UTC)
	w := api.NewMultipleConditionWindow(testFlow(task("x")), mc, now)

	assert.Equal(t, "io.test_flow_cond", w.UID())
	assert.False(t, w.IsExpired(now))
	assert.True(t, w.IsExpired(now.Add(time.Hour)))

	w = w.With(map[string]bool{"a": true, "b": false})
	assert.False(t, w.IsFulfilled(mc))

	w = w.With(map[string]bool{"a": false, "b": true})
	assert.True(t, w.Results["a"])
	assert.True(t, w.IsFulfilled(mc))
}
