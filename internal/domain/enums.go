// Package domain defines the core domain models for the phase controller.
package domain

// RunStatus represents the status of a run.
type RunStatus string

const (
	RunStatusIdle      RunStatus = "IDLE"
	RunStatusRunning   RunStatus = "RUNNING"
	RunStatusCompleted RunStatus = "COMPLETED"
	RunStatusCancelled RunStatus = "CANCELLED"
)

// IsTerminal reports whether no worker is active for a run in this status.
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunStatusCompleted, RunStatusCancelled:
		return true
	}
	return false
}

// ControlAction is a user decision submitted through the phase control API.
type ControlAction string

const (
	ControlActionContinue ControlAction = "continue"
	ControlActionRestart  ControlAction = "restart"
)

// Valid reports whether a is a known action.
func (a ControlAction) Valid() bool {
	return a == ControlActionContinue || a == ControlActionRestart
}

// EventType represents the type of an archived run event.
type EventType string

const (
	EventTypeRunStarted   EventType = "run_started"
	EventTypeRunCompleted EventType = "run_completed"
	EventTypeRunFailed    EventType = "run_failed"
	EventTypeRunContinued EventType = "run_continued"
	EventTypeRunRestarted EventType = "run_restarted"
	EventTypeRunCancelled EventType = "run_cancelled"
)

// StreamEventType tags frames pushed to websocket subscribers.
type StreamEventType string

const (
	StreamEventMessage StreamEventType = "message"
	StreamEventPhase   StreamEventType = "phase"
	StreamEventReset   StreamEventType = "reset"
)
