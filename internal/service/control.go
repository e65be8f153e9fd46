package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/xiaot623/gogo/phasectl/internal/domain"
)

const defaultWorkerStopTimeout = 5 * time.Second

// SubmitControlAction applies a continue or restart decision and returns
// the resulting phase state. A failed action leaves the state unchanged.
func (s *Service) SubmitControlAction(ctx context.Context, req domain.ControlRequest) (domain.PhaseState, error) {
	if !req.Action.Valid() {
		return s.GetPhaseState(), fmt.Errorf("%w: unknown action %q", domain.ErrInvalidTransition, req.Action)
	}
	if req.Action == domain.ControlActionRestart {
		return s.restart(ctx, req)
	}
	return s.continueRun(ctx, req)
}

func (s *Service) continueRun(ctx context.Context, req domain.ControlRequest) (domain.PhaseState, error) {
	s.controlMu.Lock()
	defer s.controlMu.Unlock()

	s.mu.Lock()
	if err := s.checkActionLocked(req); err != nil {
		state := domain.PhaseStateOf(s.current)
		s.mu.Unlock()
		return state, err
	}
	s.current.NeedsRestart = false
	snap := s.current.Clone()
	s.mu.Unlock()

	s.archiveRun(ctx, &snap)
	if err := s.recordEvent(ctx, snap.RunID, domain.EventTypeRunContinued, nil); err != nil {
		s.logger.Error("failed to record run_continued event", "run_id", snap.RunID, "err", err)
	}
	s.publishPhase(&snap)
	s.logger.Info("run continued", "run_id", snap.RunID)

	return domain.PhaseStateOf(&snap), nil
}

// restart replaces the current run. A restart arriving while another is
// still stopping the previous worker fails with ErrInvalidTransition;
// restarts that do not overlap are applied in turn. Callers that need
// exactly one of several concurrent restarts to win pin req.RunID.
func (s *Service) restart(ctx context.Context, req domain.ControlRequest) (domain.PhaseState, error) {
	if !s.restarting.CompareAndSwap(false, true) {
		return s.GetPhaseState(), fmt.Errorf("%w: restart already in progress", domain.ErrInvalidTransition)
	}
	defer s.restarting.Store(false)

	s.controlMu.Lock()
	defer s.controlMu.Unlock()

	s.mu.RLock()
	err := s.checkActionLocked(req)
	var prev domain.RunState
	if s.current != nil {
		prev = s.current.Clone()
	}
	s.mu.RUnlock()
	if err != nil {
		return domain.PhaseStateOf(&prev), err
	}

	prompt := strings.TrimSpace(req.RestartPrompt)
	if prompt == "" {
		prompt = prev.Prompt
	}
	if err := s.admit(ctx, "restart", prompt, prev.Meta); err != nil {
		return domain.PhaseStateOf(&prev), err
	}

	// Fence the old run before cancelling its worker so nothing it does
	// after this point reaches the log or the phase state.
	s.mu.Lock()
	s.writable = ""
	cancelled := s.current.Status == domain.RunStatusRunning
	if cancelled {
		now := s.now()
		s.current.Status = domain.RunStatusCancelled
		s.current.CompletedAt = &now
	}
	old := s.current.Clone()
	s.mu.Unlock()

	s.stopActive()

	if cancelled {
		s.archiveRun(ctx, &old)
		if err := s.recordEvent(ctx, old.RunID, domain.EventTypeRunCancelled, nil); err != nil {
			s.logger.Error("failed to record run_cancelled event", "run_id", old.RunID, "err", err)
		}
	}

	next := s.launch(ctx, prompt, prev.Meta, prev.Config, old.RunID)
	if err := s.recordEvent(ctx, old.RunID, domain.EventTypeRunRestarted, domain.RunRestartedPayload{
		NextRunID:     next.RunID,
		RestartPrompt: req.RestartPrompt,
	}); err != nil {
		s.logger.Error("failed to record run_restarted event", "run_id", old.RunID, "err", err)
	}
	s.logger.Info("run restarted", "previous_run_id", old.RunID, "run_id", next.RunID)

	return domain.PhaseStateOf(&next), nil
}

// checkActionLocked validates req against the current run. Callers hold mu.
func (s *Service) checkActionLocked(req domain.ControlRequest) error {
	if err := domain.ValidateAction(s.current, req.Action); err != nil {
		return err
	}
	if req.RunID != "" && req.RunID != s.current.RunID {
		return fmt.Errorf("%w: run %s has been replaced by %s", domain.ErrInvalidTransition, req.RunID, s.current.RunID)
	}
	return nil
}

// Shutdown fences and cancels the active worker, waiting for it up to ctx's deadline.
func (s *Service) Shutdown(ctx context.Context) error {
	s.controlMu.Lock()
	defer s.controlMu.Unlock()

	s.mu.Lock()
	aw := s.active
	s.active = nil
	var snap *domain.RunState
	if s.current != nil && s.current.Status == domain.RunStatusRunning {
		now := s.now()
		s.current.Status = domain.RunStatusCancelled
		s.current.CompletedAt = &now
		s.current.Error = "controller shut down"
		c := s.current.Clone()
		snap = &c
	}
	s.writable = ""
	s.mu.Unlock()

	if snap != nil {
		s.archiveRun(ctx, snap)
		if err := s.recordEvent(ctx, snap.RunID, domain.EventTypeRunCancelled, nil); err != nil {
			s.logger.Error("failed to record run_cancelled event", "run_id", snap.RunID, "err", err)
		}
		s.publishPhase(snap)
	}

	if aw == nil {
		return nil
	}
	aw.cancel()
	select {
	case <-aw.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("worker for run %s did not stop: %w", aw.runID, ctx.Err())
	}
}
