package api

import (
	"slices"
	"time"

	"github.com/kode4food/cascade/pkg/util"
)

type (
	// StateType is the status of an execution or of a task run
	StateType string

	// History records a single state transition
	History struct {
		State StateType `json:"state"`
		Date  time.Time `json:"date"`
	}

	// State is an append-only history of state transitions, where Current
	// is always the most recent entry
	State struct {
		Current   StateType `json:"current"`
		Histories []History `json:"histories"`
	}
)

const (
	StateCreated   StateType = "CREATED"
	StateRunning   StateType = "RUNNING"
	StatePaused    StateType = "PAUSED"
	StateRestarted StateType = "RESTARTED"
	StateKilling   StateType = "KILLING"
	StateSuccess   StateType = "SUCCESS"
	StateWarning   StateType = "WARNING"
	StateFailed    StateType = "FAILED"
	StateKilled    StateType = "KILLED"
	StateCancelled StateType = "CANCELLED"
	StateQueued    StateType = "QUEUED"
	StateRetrying  StateType = "RETRYING"
	StateRetried   StateType = "RETRIED"
)

var (
	stateTransitions = util.StateTransitions[StateType]{
		StateCreated: util.SetOf(
			StateRunning, StatePaused, StateKilling, StateKilled,
			StateSuccess, StateWarning, StateFailed, StateCancelled,
			StateQueued,
		),
		StateRestarted: util.SetOf(
			StateRunning, StatePaused, StateKilling, StateKilled,
			StateSuccess, StateWarning, StateFailed, StateCancelled,
		),
		StateQueued: util.SetOf(
			StateCreated, StateRunning, StateKilling, StateKilled,
			StateFailed, StateCancelled,
		),
		StateRunning: util.SetOf(
			StatePaused, StateKilling, StateKilled, StateSuccess,
			StateWarning, StateFailed, StateCancelled, StateRetrying,
		),
		StatePaused: util.SetOf(
			StateRunning, StateKilling, StateKilled, StateSuccess,
			StateWarning, StateFailed, StateCancelled,
		),
		StateKilling: util.SetOf(
			StateKilled, StateSuccess, StateWarning, StateFailed,
			StateCancelled,
		),
		StateRetrying: util.SetOf(
			StateRunning, StateRetried, StateKilling, StateKilled,
			StateSuccess, StateWarning, StateFailed,
		),
		StateSuccess:   {},
		StateWarning:   {},
		StateFailed:    {},
		StateKilled:    {},
		StateCancelled: {},
		StateRetried:   {},
	}

	createdStates = util.SetOf(StateCreated, StateRestarted)
	runningStates = util.SetOf(StateRunning, StateKilling)
	failedStates  = util.SetOf(StateFailed, StateKilled)
)

// NewState returns a State that starts out CREATED
func NewState() State {
	return NewStateOf(StateCreated)
}

// NewStateOf returns a State whose only history entry is the provided type
func NewStateOf(t StateType) State {
	return State{
		Current:   t,
		Histories: []History{{State: t, Date: time.Now()}},
	}
}

// CanTransition reports whether a state may move from one type to another.
// Types missing from the transition table are treated as non-terminal and
// may move anywhere except to themselves
func CanTransition(from, to StateType) bool {
	if from == to {
		return false
	}
	if !stateTransitions.IsKnown(from) {
		return true
	}
	return stateTransitions.CanTransition(from, to)
}

// WithState returns a copy of the State with the provided type appended. The
// original State is returned when the transition is not allowed, which
// includes any attempt to leave a terminal type
func (s State) WithState(t StateType) State {
	if !CanTransition(s.Current, t) {
		return s
	}
	res := s
	res.Current = t
	res.Histories = append(slices.Clone(s.Histories), History{
		State: t,
		Date:  time.Now(),
	})
	return res
}

// Restart returns a copy of the State with the provided type appended even
// when the current type is terminal. It is how a restarted execution brings
// its failed runs back to life
func (s State) Restart(t StateType) State {
	res := s
	res.Current = t
	res.Histories = append(slices.Clone(s.Histories), History{
		State: t,
		Date:  time.Now(),
	})
	return res
}

// StartDate returns the time of the first recorded transition
func (s State) StartDate() time.Time {
	if len(s.Histories) == 0 {
		return time.Time{}
	}
	return s.Histories[0].Date
}

// EndDate returns the time the State became terminal and whether it is
func (s State) EndDate() (time.Time, bool) {
	if !s.IsTerminated() || len(s.Histories) == 0 {
		return time.Time{}, false
	}
	return s.Histories[len(s.Histories)-1].Date, true
}

// Duration returns the time spent from the first transition until the State
// became terminal, or until now if it is not yet terminal
func (s State) Duration() time.Duration {
	start := s.StartDate()
	if start.IsZero() {
		return 0
	}
	if end, ok := s.EndDate(); ok {
		return end.Sub(start)
	}
	return time.Since(start)
}

// IsCreated returns true if the current type is an initial type
func (s State) IsCreated() bool { return s.Current.IsCreated() }

// IsRunning returns true if the current type is a running type
func (s State) IsRunning() bool { return s.Current.IsRunning() }

// IsPaused returns true if the current type is PAUSED
func (s State) IsPaused() bool { return s.Current.IsPaused() }

// IsTerminated returns true if the current type is a terminal type
func (s State) IsTerminated() bool { return s.Current.IsTerminated() }

// IsFailed returns true if the current type is FAILED or KILLED
func (s State) IsFailed() bool { return s.Current.IsFailed() }

// IsCreated returns true for CREATED and RESTARTED
func (t StateType) IsCreated() bool {
	return createdStates.Contains(t)
}

// IsRunning returns true for RUNNING and KILLING
func (t StateType) IsRunning() bool {
	return runningStates.Contains(t)
}

// IsPaused returns true for PAUSED
func (t StateType) IsPaused() bool {
	return t == StatePaused
}

// IsTerminated returns true for the terminal types. Unknown types are never
// terminal
func (t StateType) IsTerminated() bool {
	return stateTransitions.IsTerminal(t)
}

// IsFailed returns true for FAILED and KILLED
func (t StateType) IsFailed() bool {
	return failedStates.Contains(t)
}

// IsRetrying returns true for RETRYING and RETRIED
func (t StateType) IsRetrying() bool {
	return t == StateRetrying || t == StateRetried
}
