package assert

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kode4food/cascade/internal/config"
	"github.com/kode4food/cascade/pkg/api"
)

// Wrapper wraps testify assertions with cascade-specific helpers
type Wrapper struct {
	*testing.T
	*assert.Assertions
	Require *require.Assertions
}

// DefaultRetryInterval is the default polling interval for Eventually checks
const DefaultRetryInterval = 100 * time.Millisecond

// New creates a new test assertion wrapper with both assert and require from
// testify plus cascade-specific helpers
func New(t *testing.T) *Wrapper {
	return &Wrapper{
		T:          t,
		Assertions: assert.New(t),
		Require:    require.New(t),
	}
}

// FlowValid asserts that a flow is valid
func (w *Wrapper) FlowValid(f *api.Flow) {
	w.Helper()
	w.NoError(f.Validate())
	w.NotEmpty(f.ID)
	w.NotEmpty(f.Namespace)
	w.NotEmpty(f.Tasks)
}

// FlowInvalid asserts that a flow is invalid and returns the validation
// error
func (w *Wrapper) FlowInvalid(f *api.Flow, expected error) error {
	w.Helper()
	err := f.Validate()
	w.Error(err)
	if expected != nil {
		w.ErrorIs(err, expected)
	}
	return err
}

// ExecutionState asserts the current state of an execution
func (w *Wrapper) ExecutionState(e *api.Execution, expected api.StateType) {
	w.Helper()
	w.Equal(expected, e.State.Current, "execution %s", e.ID)
}

// TaskRunStates asserts the states of every task run of a task, in
// creation order
func (w *Wrapper) TaskRunStates(
	e *api.Execution, taskID string, expected ...api.StateType,
) {
	w.Helper()
	var states []api.StateType
	for _, tr := range e.FindTaskRunsByTaskID(taskID) {
		states = append(states, tr.State.Current)
	}
	w.Equal(expected, states, "task runs of %s", taskID)
}

// ConfigValid asserts that a configuration is valid
func (w *Wrapper) ConfigValid(cfg *config.Config) {
	w.Helper()
	w.NoError(cfg.Validate())
	w.True(cfg.APIPort > 0 && cfg.APIPort <= config.MaxTCPPort)
	w.True(cfg.TaskTimeout > 0)
	w.True(cfg.WorkerThreads > 0)
}

// ConfigInvalid asserts that a configuration is invalid
func (w *Wrapper) ConfigInvalid(cfg *config.Config, contains string) {
	w.Helper()
	err := cfg.Validate()
	w.Error(err)
	if err != nil && contains != "" {
		w.Contains(err.Error(), contains)
	}
}

// Eventually runs a condition repeatedly until it passes or times out
func (w *Wrapper) Eventually(
	condition func() bool, timeout time.Duration, msg string, args ...any,
) {
	w.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(DefaultRetryInterval)
	}
	w.Fail(msg, args...)
}
