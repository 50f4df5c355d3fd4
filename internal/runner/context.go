package runner

import (
	"log/slog"
	"maps"
	"sync"

	"github.com/kode4food/cascade/internal/render"
	"github.com/kode4food/cascade/pkg/api"
)

// RunContext is what a task is resolved or run against. The variables are
// derived lazily from the flow, the execution, and the current task run
type RunContext struct {
	flow      *api.Flow
	execution *api.Execution
	taskRun   *api.TaskRun
	provider  api.FlowProvider
	logger    *slog.Logger

	once      sync.Once
	variables render.Variables
}

// NewRunContext creates a RunContext for an execution of a flow
func NewRunContext(
	f *api.Flow, e *api.Execution, provider api.FlowProvider,
) *RunContext {
	return &RunContext{
		flow:      f,
		execution: e,
		provider:  provider,
		logger:    slog.Default(),
	}
}

// NewRunContextFromVariables creates a RunContext around precomputed
// variables, which is how the worker receives them
func NewRunContextFromVariables(
	vars map[string]any, logger *slog.Logger,
) *RunContext {
	if logger == nil {
		logger = slog.Default()
	}
	rc := &RunContext{
		logger:    logger,
		variables: maps.Clone(vars),
	}
	rc.once.Do(func() {})
	return rc
}

// ForTaskRun returns a RunContext bound to a task run of the same execution
func (rc *RunContext) ForTaskRun(tr *api.TaskRun) *RunContext {
	return &RunContext{
		flow:      rc.flow,
		execution: rc.execution,
		taskRun:   tr,
		provider:  rc.provider,
		logger:    rc.logger,
	}
}

// WithLogger returns a copy of the RunContext using the provided logger
func (rc *RunContext) WithLogger(l *slog.Logger) *RunContext {
	res := &RunContext{
		flow:      rc.flow,
		execution: rc.execution,
		taskRun:   rc.taskRun,
		provider:  rc.provider,
		logger:    l,
	}
	if rc.flow == nil {
		res.variables = rc.Variables()
		res.once.Do(func() {})
	}
	return res
}

func (rc *RunContext) Flow() *api.Flow                { return rc.flow }
func (rc *RunContext) Execution() *api.Execution      { return rc.execution }
func (rc *RunContext) TaskRun() *api.TaskRun          { return rc.taskRun }
func (rc *RunContext) FlowProvider() api.FlowProvider { return rc.provider }
func (rc *RunContext) Logger() *slog.Logger           { return rc.logger }

// Variables returns the template variables of the context
func (rc *RunContext) Variables() render.Variables {
	rc.once.Do(func() {
		rc.variables = rc.buildVariables()
	})
	return rc.variables
}

// Render renders a template against the context variables
func (rc *RunContext) Render(tmpl string) (string, error) {
	return render.Render(tmpl, rc.Variables())
}

// RenderMap renders every string of the map against the context variables
func (rc *RunContext) RenderMap(in map[string]any) (map[string]any, error) {
	return render.RenderMap(in, rc.Variables())
}

func (rc *RunContext) buildVariables() render.Variables {
	vars := render.Variables{}
	if f := rc.flow; f != nil {
		vars["flow"] = map[string]any{
			"id":        f.ID,
			"namespace": f.Namespace,
			"revision":  f.Revision,
		}
		vars["vars"] = maps.Clone(f.Variables)
	}

	e := rc.execution
	if e == nil {
		return vars
	}
	vars["execution"] = map[string]any{
		"id":         e.ID,
		"originalId": e.OriginalID,
		"startDate":  e.State.StartDate(),
		"state":      string(e.State.Current),
	}
	vars["inputs"] = maps.Clone(e.Inputs)
	vars["labels"] = maps.Clone(e.Labels)
	vars["outputs"] = e.Outputs()
	if len(e.Variables) > 0 {
		merged := map[string]any{}
		if fv, ok := vars["vars"].(map[string]any); ok {
			maps.Copy(merged, fv)
		}
		maps.Copy(merged, e.Variables)
		vars["vars"] = merged
	}
	if e.Trigger != nil {
		vars["trigger"] = maps.Clone(e.Trigger.Variables)
	}

	tr := rc.taskRun
	if tr == nil {
		return vars
	}
	taskRun := map[string]any{
		"id":            tr.ID,
		"startDate":     tr.State.StartDate(),
		"attemptsCount": tr.AttemptNumber(),
	}
	if tr.Value != "" {
		taskRun["value"] = tr.Value
	}
	if tr.ParentTaskRunID != "" {
		taskRun["parentId"] = tr.ParentTaskRunID
	}
	vars["taskrun"] = taskRun
	vars["task"] = map[string]any{"id": tr.TaskID}

	parents := e.Parents(tr)
	if len(parents) > 0 {
		vars["parent"] = parents[0]
		vars["parents"] = parents
	}
	return vars
}
