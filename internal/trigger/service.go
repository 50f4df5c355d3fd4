// Package trigger decides which flows start when an execution terminates,
// and which listener tasks an execution still has to run
package trigger

import (
	"context"
	"log/slog"
	"maps"
	"slices"
	"time"

	"github.com/kode4food/cascade/internal/render"
	"github.com/kode4food/cascade/internal/runner"
	"github.com/kode4food/cascade/pkg/api"
	"github.com/kode4food/cascade/pkg/log"
)

type (
	// Service evaluates flow triggers and listeners against executions
	Service struct {
		storage api.MultipleConditionStorage
		clock   Clock
		windows windowLocks
	}

	// Clock provides the current time used to place condition windows
	Clock func() time.Time

	candidate struct {
		flow    *api.Flow
		trigger *api.FlowTrigger
	}
)

// TypeFlow is the type recorded on executions started by a flow trigger
const TypeFlow = "flow"

// NewService creates a Service. Multiple conditions are only satisfiable
// when a storage is provided
func NewService(storage api.MultipleConditionStorage, clock Clock) *Service {
	if clock == nil {
		clock = time.Now
	}
	return &Service{
		storage: storage,
		clock:   clock,
	}
}

// ComputeExecutionsFromFlowTriggers returns the executions to start now that
// the provided execution has terminated. A flow never triggers itself
func (s *Service) ComputeExecutionsFromFlowTriggers(
	ctx context.Context, e *api.Execution, flows []*api.Flow,
) []*api.Execution {
	now := s.clock()
	var valid []candidate
	for _, f := range flows {
		if f.Disabled || (f.Namespace == e.Namespace && f.ID == e.FlowID) {
			continue
		}
		for _, t := range f.Triggers {
			if t.Disabled || !matchesStates(t, e) {
				continue
			}
			cc := s.conditionContext(f, e, nil, now)
			if s.valid(ctx, f, singles(t.Conditions), cc) {
				valid = append(valid, candidate{flow: f, trigger: t})
			}
		}
	}

	var res []*api.Execution
	for _, c := range valid {
		if ex, ok := s.fire(ctx, c, e, now); ok {
			res = append(res, ex)
		}
	}

	s.purgeExpired(ctx, now)
	return res
}

// fire tests the multiple conditions of a candidate and consumes any window
// it fulfills. The candidate's windows stay locked from the first read until
// the fulfilled ones are deleted, so two terminations that complete the same
// window produce exactly one execution
func (s *Service) fire(
	ctx context.Context, c candidate, e *api.Execution, now time.Time,
) (*api.Execution, bool) {
	mcs := multipleConditions(c.trigger.Conditions)
	if len(mcs) > 0 && s.storage != nil {
		unlock := s.windows.lock(windowKeys(c.flow, mcs)...)
		defer unlock()
	}

	cc := s.conditionContext(c.flow, e, s.storage, now)
	ok := s.valid(ctx, c.flow, multiples(c.trigger.Conditions), cc)
	s.purgeFulfilled(ctx, c.flow, mcs)
	if !ok {
		return nil, false
	}
	return s.evaluate(c.flow, c.trigger, e)
}

// FindValidListeners returns the tasks of every listener of the flow whose
// conditions hold for the execution
func (s *Service) FindValidListeners(
	ctx context.Context, f *api.Flow, e *api.Execution,
) []*api.ResolvedTask {
	res := []*api.ResolvedTask{}
	if f == nil {
		return res
	}
	cc := s.conditionContext(f, e, nil, s.clock())
	for _, l := range f.Listeners {
		if len(l.Conditions) > 0 && !s.valid(ctx, f, l.Conditions, cc) {
			continue
		}
		res = append(res, api.ResolvedTasksOf(l.Tasks)...)
	}
	return res
}

// IsTerminatedWithListeners reports whether the execution is terminated and
// every valid listener task has run to completion
func (s *Service) IsTerminatedWithListeners(
	ctx context.Context, f *api.Flow, e *api.Execution,
) bool {
	if !e.State.IsTerminated() {
		return false
	}
	return e.IsTerminatedFor(s.FindValidListeners(ctx, f, e), nil)
}

func (s *Service) conditionContext(
	f *api.Flow, e *api.Execution, st api.MultipleConditionStorage,
	now time.Time,
) *api.ConditionContext {
	return &api.ConditionContext{
		Flow:      f,
		Execution: e,
		Storage:   st,
		Now:       now,
	}
}

// valid reports whether every condition holds. A condition that fails to
// evaluate does not hold
func (s *Service) valid(
	ctx context.Context, f *api.Flow, conds []api.Condition,
	cc *api.ConditionContext,
) bool {
	for _, c := range conds {
		ok, err := c.Test(ctx, cc)
		if err != nil {
			slog.Warn("Condition evaluation failed",
				log.Namespace(f.Namespace),
				log.FlowID(f.ID),
				slog.String("condition", c.ConditionType()),
				log.Error(err))
			return false
		}
		if !ok {
			return false
		}
	}
	return true
}

func (s *Service) evaluate(
	f *api.Flow, t *api.FlowTrigger, current *api.Execution,
) (*api.Execution, bool) {
	vars := map[string]any{
		"executionId":  current.ID,
		"namespace":    current.Namespace,
		"flowId":       current.FlowID,
		"flowRevision": current.FlowRevision,
		"state":        string(current.State.Current),
	}

	inputs := map[string]any{}
	if len(t.Inputs) > 0 {
		env := maps.Clone(runner.NewRunContext(f, current, nil).Variables())
		trigger := maps.Clone(vars)
		if outputs := current.Outputs(); len(outputs) > 0 {
			trigger["outputs"] = outputs
		}
		env["trigger"] = trigger
		for k, tmpl := range t.Inputs {
			v, err := render.Render(tmpl, env)
			if err != nil {
				slog.Warn("Failed to trigger flow, invalid inputs",
					log.Namespace(f.Namespace),
					log.FlowID(f.ID),
					slog.String("trigger", t.ID),
					log.Error(err))
				return nil, false
			}
			inputs[k] = v
		}
	}

	res := api.NewExecution(f, inputs, nil).WithTrigger(&api.ExecutionTrigger{
		ID:        t.ID,
		Type:      TypeFlow,
		Variables: vars,
	})
	return res, true
}

func (s *Service) purgeFulfilled(
	ctx context.Context, f *api.Flow, mcs []api.MultipleCondition,
) {
	if s.storage == nil {
		return
	}
	for _, mc := range mcs {
		w, err := s.storage.Get(ctx, f, mc.ConditionID())
		if err != nil {
			s.logStorageError(err)
			continue
		}
		if w != nil && w.IsFulfilled(mc) {
			s.delete(ctx, w)
		}
	}
}

// purgeExpired deletes every window that has closed. Each window is read
// again under its lock, as a concurrent evaluation may have replaced it
func (s *Service) purgeExpired(ctx context.Context, now time.Time) {
	if s.storage == nil {
		return
	}
	expired, err := s.storage.Expired(ctx, now)
	if err != nil {
		s.logStorageError(err)
		return
	}
	for _, w := range expired {
		s.deleteIfExpired(ctx, w, now)
	}
}

func (s *Service) deleteIfExpired(
	ctx context.Context, w *api.MultipleConditionWindow, now time.Time,
) {
	unlock := s.windows.lock(w.UID())
	defer unlock()

	f := &api.Flow{Namespace: w.Namespace, ID: w.FlowID}
	cur, err := s.storage.Get(ctx, f, w.ConditionID)
	if err != nil {
		s.logStorageError(err)
		return
	}
	if cur != nil && cur.IsExpired(now) {
		s.delete(ctx, cur)
	}
}

func (s *Service) delete(ctx context.Context, w *api.MultipleConditionWindow) {
	if err := s.storage.Delete(ctx, w); err != nil {
		s.logStorageError(err)
	}
}

func (s *Service) logStorageError(err error) {
	slog.Error("Multiple condition storage failed",
		log.Error(err))
}

func matchesStates(t *api.FlowTrigger, e *api.Execution) bool {
	return len(t.States) == 0 || slices.Contains(t.States, e.State.Current)
}

func singles(conds []api.Condition) []api.Condition {
	return slices.DeleteFunc(slices.Clone(conds), isMultiple)
}

func multiples(conds []api.Condition) []api.Condition {
	return slices.DeleteFunc(slices.Clone(conds), func(c api.Condition) bool {
		return !isMultiple(c)
	})
}

func multipleConditions(conds []api.Condition) []api.MultipleCondition {
	var res []api.MultipleCondition
	for _, c := range conds {
		if mc, ok := c.(api.MultipleCondition); ok {
			res = append(res, mc)
		}
	}
	return res
}

func windowKeys(f *api.Flow, mcs []api.MultipleCondition) []string {
	res := make([]string, 0, len(mcs))
	for _, mc := range mcs {
		res = append(res, api.WindowUID(f.Namespace, f.ID, mc.ConditionID()))
	}
	return res
}

func isMultiple(c api.Condition) bool {
	_, ok := c.(api.MultipleCondition)
	return ok
}
