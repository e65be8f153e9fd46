package domain

// RunStartedPayload is the payload for run_started events.
type RunStartedPayload struct {
	Prompt        string `json:"prompt"`
	PreviousRunID string `json:"previous_run_id,omitempty"`
	Name          string `json:"name,omitempty"`
	Model         string `json:"model,omitempty"`
}

// RunRestartedPayload is the payload for run_restarted events, recorded on the replaced run.
type RunRestartedPayload struct {
	NextRunID     string `json:"next_run_id"`
	RestartPrompt string `json:"restart_prompt,omitempty"`
}

// RunFailedPayload is the payload for run_failed events.
type RunFailedPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// RunCompletedPayload is the payload for run_completed events.
type RunCompletedPayload struct {
	Turns    int    `json:"turns"`
	Messages uint64 `json:"messages"`
}
