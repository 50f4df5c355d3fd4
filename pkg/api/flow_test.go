package api_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kode4food/cascade/pkg/api"
)

func TestFlowAllTasks(t *testing.T) {
	inner := &stubParent{
		stubTask: stubTask{id: "seq"},
		children: []api.Task{task("a"), task("b")},
		errors:   []api.Task{task("on-seq-error")},
	}
	f := testFlow(inner, task("c"))
	f.Errors = []api.Task{task("on-error")}
	f.Listeners = []*api.Listener{{Tasks: []api.Task{task("notify")}}}

	var ids []string
	for _, tk := range f.AllTasks() {
		ids = append(ids, tk.TaskID())
	}
	assert.Equal(t, []string{
		"seq", "a", "b", "on-seq-error", "c", "on-error", "notify",
	}, ids)

	found, err := f.FindTaskByTaskID("b")
	require.NoError(t, err)
	assert.Equal(t, "b", found.TaskID())

	_, err = f.FindTaskByTaskID("missing")
	assert.ErrorIs(t, err, api.ErrTaskNotFound)

	assert.True(t, f.IsListenerTask("notify"))
	assert.False(t, f.IsListenerTask("a"))

	var errIDs []string
	for _, tk := range f.AllErrorsWithChildren() {
		errIDs = append(errIDs, tk.TaskID())
	}
	assert.Equal(t, []string{"on-error", "on-seq-error"}, errIDs)
}

func TestFlowValidate(t *testing.T) {
	assert.NoError(t, testFlow(task("a")).Validate())

	assert.ErrorIs(t, (&api.Flow{Namespace: "ns"}).Validate(),
		api.ErrFlowIDEmpty)
	assert.ErrorIs(t, (&api.Flow{ID: "f"}).Validate(), api.ErrFlowNamespace)
	assert.ErrorIs(t, testFlow().Validate(), api.ErrFlowNoTasks)
	assert.ErrorIs(t, testFlow(task("")).Validate(), api.ErrTaskIDEmpty)
	assert.ErrorIs(t, testFlow(task("a"), task("a")).Validate(),
		api.ErrDuplicateTaskID)

	f := testFlow(task("a"))
	f.Triggers = []*api.FlowTrigger{{ID: "t"}}
	assert.ErrorIs(t, f.Validate(), api.ErrMissingCondition)

	f.Triggers = []*api.FlowTrigger{
		{ID: "t", States: []api.StateType{api.StateSuccess}},
		{ID: "t", States: []api.StateType{api.StateSuccess}},
	}
	assert.ErrorIs(t, f.Validate(), api.ErrDuplicateTrigger)

	f.Triggers = nil
	f.Inputs = []*api.Input{{}}
	assert.ErrorIs(t, f.Validate(), api.ErrInputNameEmpty)
}

func TestResolveInputs(t *testing.T) {
	f := testFlow(task("a"))
	f.Inputs = []*api.Input{
		{Name: "name", Required: true},
		{Name: "greeting", Default: "hello"},
		{Name: "optional"},
	}

	res, err := f.ResolveInputs(map[string]any{"name": "bob"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"name": "bob", "greeting": "hello"}, res)

	_, err = f.ResolveInputs(nil)
	assert.ErrorIs(t, err, api.ErrRequiredInput)
}
