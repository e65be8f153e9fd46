package service

import (
	"context"
	"fmt"

	"github.com/xiaot623/gogo/phasectl/internal/domain"
)

// RunHandle is the Handle given to the worker of one run.
type RunHandle struct {
	svc    *Service
	runID  string
	prompt string
}

var _ Handle = (*RunHandle)(nil)

func (h *RunHandle) RunID() string  { return h.runID }
func (h *RunHandle) Prompt() string { return h.prompt }

// Append adds a message to the run's log and returns its index.
func (h *RunHandle) Append(ctx context.Context, in domain.MessageInput) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	msg, err := h.svc.appendMessage(ctx, h.runID, in)
	if err != nil {
		return 0, err
	}
	return msg.Index, nil
}

// AdvanceTurn increments the run's turn counter and returns the new value.
func (h *RunHandle) AdvanceTurn(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s := h.svc

	s.mu.Lock()
	if s.writable != h.runID {
		s.mu.Unlock()
		return 0, fmt.Errorf("%w: %s", domain.ErrStaleRun, h.runID)
	}
	s.current.CurrentTurn++
	snap := s.current.Clone()
	// Archived under the fence so a replaced run's row cannot be rewritten as running.
	s.archiveRun(ctx, &snap)
	s.mu.Unlock()

	s.publishPhase(&snap)
	return snap.CurrentTurn, nil
}
