package domain

import (
	"strings"
	"time"
)

// SystemRole is the role used for messages produced by the pipeline itself.
const SystemRole = "System"

// Message is one entry of a run's message log.
type Message struct {
	Index     uint64    `json:"index"`
	RunID     string    `json:"run_id"`
	Role      string    `json:"role"`
	Text      string    `json:"text"`
	AvatarURL string    `json:"avatarUrl,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// MessageInput is a message before the log has assigned its index.
type MessageInput struct {
	Role      string `json:"role"`
	Text      string `json:"text"`
	AvatarURL string `json:"avatarUrl,omitempty"`
}

// AvatarURL returns the static avatar path for a role.
func AvatarURL(role string) string {
	return "/static/avatars/" + strings.ReplaceAll(role, " ", "%20") + ".png"
}

// MessagePage is an incremental slice of the current run's log.
type MessagePage struct {
	RunID      string    `json:"run_id"`
	NextCursor uint64    `json:"next_cursor"`
	Messages   []Message `json:"messages"`
}
