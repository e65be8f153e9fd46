// Package worker contains the message producers that drive a run.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/xiaot623/gogo/phasectl/internal/adapter/llm"
	"github.com/xiaot623/gogo/phasectl/internal/config"
	"github.com/xiaot623/gogo/phasectl/internal/domain"
	"github.com/xiaot623/gogo/phasectl/internal/service"
)

// ConclusionMarker prefixes the line with which an agent ends the seminar.
const ConclusionMarker = "<INFO>"

// RolePlay runs a two-agent seminar over the task prompt. Each turn the
// assistant answers the instructing user, then the user replies, until one
// of them concludes or the turn limit is reached.
type RolePlay struct {
	client        llm.LLMClient
	model         string
	turnLimit     int
	stepDelay     time.Duration
	assistantRole string
	userRole      string
	logger        *slog.Logger
}

var _ service.Worker = (*RolePlay)(nil)

// NewRolePlay creates a role-play worker from configuration.
func NewRolePlay(client llm.LLMClient, cfg *config.Config, logger *slog.Logger) *RolePlay {
	return &RolePlay{
		client:        client,
		model:         cfg.LLMModel,
		turnLimit:     cfg.TurnLimit,
		stepDelay:     cfg.StepDelay,
		assistantRole: cfg.AssistantRole,
		userRole:      cfg.UserRole,
		logger:        logger,
	}
}

type turn struct {
	role string
	text string
}

// Run implements service.Worker.
func (w *RolePlay) Run(ctx context.Context, run domain.RunState, h service.Handle) error {
	model := w.model
	if run.Meta.Model != "" {
		model = run.Meta.Model
	}
	logger := w.logger.With("run_id", run.RunID, "model", model)

	if _, err := h.Append(ctx, domain.MessageInput{
		Role: domain.SystemRole,
		Text: "Task: " + run.Prompt,
	}); err != nil {
		return err
	}

	transcript := []turn{{role: w.userRole, text: run.Prompt}}
	conclusion := ""
	turns := 0

	for turns < w.turnLimit && conclusion == "" {
		n, err := h.AdvanceTurn(ctx)
		if err != nil {
			return err
		}
		turns = n

		for _, speaker := range []string{w.assistantRole, w.userRole} {
			text, err := w.speak(ctx, model, speaker, run.Prompt, transcript)
			if err != nil {
				return fmt.Errorf("%s turn %d: %w", speaker, turns, err)
			}
			if _, err := h.Append(ctx, domain.MessageInput{Role: speaker, Text: text}); err != nil {
				return err
			}
			transcript = append(transcript, turn{role: speaker, text: text})
			logger.Debug("agent replied", "role", speaker, "turn", turns)

			if c, ok := Conclusion(text); ok {
				conclusion = c
				break
			}
			if err := sleep(ctx, w.stepDelay); err != nil {
				return err
			}
		}
	}

	summary := fmt.Sprintf("Seminar ended after %d turns without a conclusion.", turns)
	if conclusion != "" {
		summary = fmt.Sprintf("Seminar concluded after %d turns: %s", turns, conclusion)
	}
	if _, err := h.Append(ctx, domain.MessageInput{Role: domain.SystemRole, Text: summary}); err != nil {
		return err
	}
	logger.Info("seminar finished", "turns", turns, "concluded", conclusion != "")
	return nil
}

func (w *RolePlay) speak(ctx context.Context, model, speaker, prompt string, transcript []turn) (string, error) {
	partner := w.userRole
	if speaker == w.userRole {
		partner = w.assistantRole
	}

	messages := make([]llm.ChatMessage, 0, len(transcript)+1)
	messages = append(messages, llm.ChatMessage{
		Role: "system",
		Content: fmt.Sprintf("You are the %s working with the %s on this task: %s\n"+
			"When the discussion has reached a decision, answer with a final line starting with %s followed by the decision.",
			speaker, partner, prompt, ConclusionMarker),
	})
	for _, t := range transcript {
		role := "user"
		if t.role == speaker {
			role = "assistant"
		}
		messages = append(messages, llm.ChatMessage{Role: role, Content: t.text})
	}

	resp, err := w.client.CreateChatCompletion(ctx, &llm.ChatCompletionRequest{
		Model:    model,
		Messages: messages,
	})
	if err != nil {
		return "", err
	}
	return resp.Content()
}

// Conclusion reports whether text ends the seminar: its last line must
// start with ConclusionMarker. It returns the text after the marker.
func Conclusion(text string) (string, bool) {
	text = strings.TrimRight(text, "\n")
	lines := strings.Split(text, "\n")
	last := strings.TrimSpace(lines[len(lines)-1])
	if !strings.HasPrefix(last, ConclusionMarker) {
		return "", false
	}
	return strings.TrimSpace(strings.TrimPrefix(last, ConclusionMarker)), true
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
