package domain

import "fmt"

// ValidateStatusTransition reports whether a run may move from one status to another.
func ValidateStatusTransition(from, to RunStatus) error {
	allowed, ok := allowedRunStatusTransitions[from]
	if !ok {
		return fmt.Errorf("%w: unknown source status %q", ErrInvalidTransition, from)
	}
	if _, ok := allowed[to]; !ok {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// ValidateAction checks a control action against the current run. A nil
// run means no run was ever started.
func ValidateAction(run *RunState, action ControlAction) error {
	if !action.Valid() {
		return fmt.Errorf("%w: unknown action %q", ErrInvalidTransition, action)
	}
	if run == nil || run.Status == RunStatusIdle {
		return ErrNoActiveRun
	}

	switch action {
	case ControlActionContinue:
		if run.Status != RunStatusCompleted {
			return fmt.Errorf("%w: continue while %s", ErrInvalidTransition, run.Status)
		}
		return nil
	default:
		return ValidateStatusTransition(run.Status, RunStatusRunning)
	}
}

// Running -> Running is the restart edge: the old run is replaced by a new one.
var allowedRunStatusTransitions = map[RunStatus]map[RunStatus]struct{}{
	RunStatusIdle: {
		RunStatusRunning: {},
	},
	RunStatusRunning: {
		RunStatusRunning:   {},
		RunStatusCompleted: {},
		RunStatusCancelled: {},
	},
	RunStatusCompleted: {
		RunStatusCompleted: {},
		RunStatusRunning:   {},
	},
	RunStatusCancelled: {
		RunStatusRunning: {},
	},
}
