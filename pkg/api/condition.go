package api

import (
	"context"
	"maps"
	"time"
)

type (
	// Condition is a predicate evaluated against a terminated Execution
	Condition interface {
		ConditionType() string
		Test(ctx context.Context, cc *ConditionContext) (bool, error)
	}

	// MultipleCondition groups named conditions that must all have been
	// satisfied, possibly by different executions, within a time window
	MultipleCondition interface {
		Condition
		ConditionID() string
		Window() time.Duration
		WindowAdvance() time.Duration
		Conditions() map[string]Condition
	}

	// ConditionContext carries what a Condition is evaluated against. Flow
	// is the flow owning the trigger or listener, and Execution is the
	// execution that just terminated
	ConditionContext struct {
		Flow      *Flow
		Execution *Execution
		Storage   MultipleConditionStorage
		Now       time.Time
	}

	// MultipleConditionWindow records which named conditions of a
	// MultipleCondition have held during one time window
	MultipleConditionWindow struct {
		Namespace   string          `json:"namespace"`
		FlowID      string          `json:"flowId"`
		ConditionID string          `json:"conditionId"`
		Start       time.Time       `json:"start"`
		End         time.Time       `json:"end"`
		Results     map[string]bool `json:"results,omitempty"`
	}

	// MultipleConditionStorage persists MultipleConditionWindows keyed by
	// (namespace, flow id, condition id)
	MultipleConditionStorage interface {
		Get(
			ctx context.Context, f *Flow, conditionID string,
		) (*MultipleConditionWindow, error)
		GetOrCreate(
			ctx context.Context, f *Flow, mc MultipleCondition, now time.Time,
		) (*MultipleConditionWindow, error)
		Save(ctx context.Context, windows []*MultipleConditionWindow) error
		Delete(ctx context.Context, w *MultipleConditionWindow) error
		Expired(
			ctx context.Context, now time.Time,
		) ([]*MultipleConditionWindow, error)
	}
)

// NewMultipleConditionWindow creates the empty window containing now. Windows
// are laid end to end starting at UTC midnight shifted by advance
func NewMultipleConditionWindow(
	f *Flow, mc MultipleCondition, now time.Time,
) *MultipleConditionWindow {
	start, end := WindowBounds(mc.Window(), mc.WindowAdvance(), now)
	return &MultipleConditionWindow{
		Namespace:   f.Namespace,
		FlowID:      f.ID,
		ConditionID: mc.ConditionID(),
		Start:       start,
		End:         end,
		Results:     map[string]bool{},
	}
}

// WindowBounds computes the bounds of the window containing now
func WindowBounds(
	window, advance time.Duration, now time.Time,
) (time.Time, time.Time) {
	now = now.UTC()
	if window <= 0 {
		window = 24 * time.Hour
	}
	midnight := time.Date(
		now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC,
	)
	base := midnight.Add(advance)
	for base.After(now) {
		base = base.Add(-24 * time.Hour)
	}
	steps := now.Sub(base) / window
	start := base.Add(steps * window)
	return start, start.Add(window)
}

// WindowUID returns the storage key of a window
func WindowUID(namespace, flowID, conditionID string) string {
	return namespace + "_" + flowID + "_" + conditionID
}

// UID returns the storage key of the window
func (w *MultipleConditionWindow) UID() string {
	return WindowUID(w.Namespace, w.FlowID, w.ConditionID)
}

// IsExpired reports whether the window has closed
func (w *MultipleConditionWindow) IsExpired(now time.Time) bool {
	return !now.Before(w.End)
}

// With returns a copy of the window where every true result is recorded.
// A result that has been true stays true for the life of the window
func (w *MultipleConditionWindow) With(
	results map[string]bool,
) *MultipleConditionWindow {
	res := *w
	res.Results = maps.Clone(w.Results)
	if res.Results == nil {
		res.Results = map[string]bool{}
	}
	for k, v := range results {
		if v {
			res.Results[k] = true
		}
	}
	return &res
}

// IsFulfilled reports whether every named condition has held
func (w *MultipleConditionWindow) IsFulfilled(mc MultipleCondition) bool {
	for k := range mc.Conditions() {
		if !w.Results[k] {
			return false
		}
	}
	return true
}
