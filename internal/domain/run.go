package domain

import (
	"encoding/json"
	"time"
)

// RunState is the lifecycle record of one run.
type RunState struct {
	RunID        string          `json:"run_id"`
	Prompt       string          `json:"prompt"`
	CurrentTurn  int             `json:"current_turn"`
	Status       RunStatus       `json:"status"`
	NeedsRestart bool            `json:"needs_restart"`
	StartedAt    time.Time       `json:"started_at"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
	Error        string          `json:"error,omitempty"`
	Meta         RunMeta         `json:"meta"`
	Config       json.RawMessage `json:"config,omitempty"`
}

// RunMeta carries the optional request fields supplied with a prompt.
type RunMeta struct {
	Name  string `json:"name,omitempty"`
	Model string `json:"model,omitempty"`
	Path  string `json:"path,omitempty"`
	Org   string `json:"org,omitempty"`
}

// Clone returns a deep copy safe to hand to readers.
func (r RunState) Clone() RunState {
	out := r
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		out.CompletedAt = &t
	}
	if r.Config != nil {
		out.Config = append(json.RawMessage(nil), r.Config...)
	}
	return out
}

// PhaseState is the externally visible summary of the current run.
type PhaseState struct {
	RunID        string    `json:"run_id"`
	TaskPrompt   string    `json:"task_prompt"`
	CurrentTurn  int       `json:"current_turn"`
	IsCompleted  bool      `json:"is_completed"`
	NeedsRestart bool      `json:"needs_restart"`
	RunStatus    RunStatus `json:"run_status"`
}

// PhaseStateOf summarises a run; a nil run is Idle.
func PhaseStateOf(r *RunState) PhaseState {
	if r == nil {
		return PhaseState{RunStatus: RunStatusIdle}
	}
	return PhaseState{
		RunID:        r.RunID,
		TaskPrompt:   r.Prompt,
		CurrentTurn:  r.CurrentTurn,
		IsCompleted:  r.Status == RunStatusCompleted,
		NeedsRestart: r.NeedsRestart,
		RunStatus:    r.Status,
	}
}

// Event represents an archived control or progress event of a run.
type Event struct {
	EventID string          `json:"event_id"`
	RunID   string          `json:"run_id"`
	Ts      int64           `json:"ts"` // Unix milliseconds
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// StreamEvent is one frame pushed to websocket subscribers.
type StreamEvent struct {
	Type    StreamEventType `json:"type"`
	RunID   string          `json:"run_id"`
	Ts      int64           `json:"ts"`
	Message *Message        `json:"message,omitempty"`
	Phase   *PhaseState     `json:"phase_state,omitempty"`
}
