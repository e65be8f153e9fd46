package domain

import "encoding/json"

// RunPromptRequest starts a run. It binds from JSON or a form post.
type RunPromptRequest struct {
	Prompt string          `json:"prompt" form:"prompt"`
	Name   string          `json:"name,omitempty" form:"name"`
	Model  string          `json:"model,omitempty" form:"model"`
	Path   string          `json:"path,omitempty" form:"path"`
	Config json.RawMessage `json:"config,omitempty"`
	Org    string          `json:"org,omitempty" form:"org"`
}

// RunPromptResponse is the reply to a run_prompt request.
type RunPromptResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	RunID   string `json:"run_id,omitempty"`
}

// ControlRequest is a continue or restart decision. RunID, when set,
// pins the action to the run the client observed.
type ControlRequest struct {
	Action        ControlAction `json:"action"`
	RestartPrompt string        `json:"restart_prompt,omitempty"`
	RunID         string        `json:"run_id,omitempty"`
}

// ControlResponse is the reply to a phase control request.
type ControlResponse struct {
	Status     string      `json:"status"`
	Message    string      `json:"message,omitempty"`
	PhaseState *PhaseState `json:"phase_state,omitempty"`
}

// PhaseStateResponse wraps the phase state for the polling API.
type PhaseStateResponse struct {
	Status     string     `json:"status"`
	PhaseState PhaseState `json:"phase_state"`
}

// SendMessageRequest appends a message from an external producer.
type SendMessageRequest struct {
	RunID     string `json:"run_id,omitempty"`
	Role      string `json:"role"`
	Text      string `json:"text"`
	AvatarURL string `json:"avatarUrl,omitempty"`
}

// RunSummary is one row of the run archive listing.
type RunSummary struct {
	RunState
	MessageCount int `json:"message_count"`
}

const (
	StatusSuccess = "success"
	StatusError   = "error"
)
