package tasks_test

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kode4food/cascade/internal/runner"
	"github.com/kode4food/cascade/internal/tasks"
)

func varsContext(buf *bytes.Buffer) *runner.RunContext {
	var logger *slog.Logger
	if buf != nil {
		logger = slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		}))
	}
	return runner.NewRunContextFromVariables(map[string]any{
		"inputs": map[string]any{"name": "cascade", "n": 2},
	}, logger)
}

func TestReturnRun(t *testing.T) {
	r := &tasks.Return{Format: "hello {{ inputs.name }}"}
	out, err := r.Run(context.Background(), varsContext(nil))
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"value": "hello cascade"}, out)

	r = &tasks.Return{Format: "{{ inputs.missing }}"}
	_, err = r.Run(context.Background(), varsContext(nil))
	assert.Error(t, err)
}

func TestLogRun(t *testing.T) {
	var buf bytes.Buffer
	l := &tasks.Log{Message: "hi {{ inputs.name }}", Level: "warn"}
	out, err := l.Run(context.Background(), varsContext(&buf))
	require.NoError(t, err)
	assert.Nil(t, out)
	assert.Contains(t, buf.String(), "level=WARN")
	assert.Contains(t, buf.String(), "hi cascade")
}

func TestFailRun(t *testing.T) {
	f := &tasks.Fail{ErrorMessage: "bad {{ inputs.name }}"}
	_, err := f.Run(context.Background(), varsContext(nil))
	assert.ErrorIs(t, err, tasks.ErrTaskFailed)
	assert.Contains(t, err.Error(), "bad cascade")

	_, err = (&tasks.Fail{}).Run(context.Background(), varsContext(nil))
	assert.ErrorIs(t, err, tasks.ErrTaskFailed)
}

func TestSleepRun(t *testing.T) {
	s := &tasks.Sleep{Duration: time.Millisecond}
	_, err := s.Run(context.Background(), varsContext(nil))
	assert.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s = &tasks.Sleep{Duration: time.Hour}
	_, err = s.Run(ctx, varsContext(nil))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLuaRun(t *testing.T) {
	l := &tasks.Lua{
		Script: "return {doubled = inputs.n * 2, who = inputs.who}",
		Inputs: map[string]any{
			"n":   2,
			"who": "{{ inputs.name }}",
		},
	}
	require.NoError(t, l.Validate())

	out, err := l.Run(context.Background(), varsContext(nil))
	require.NoError(t, err)
	assert.Equal(t, 4, out["doubled"])
	assert.Equal(t, "cascade", out["who"])

	assert.Error(t, (&tasks.Lua{Script: "return ("}).Validate())
}
