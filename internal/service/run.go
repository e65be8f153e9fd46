package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/xiaot623/gogo/phasectl/internal/domain"
	"github.com/xiaot623/gogo/phasectl/policy"
)

// StartRun starts a new run for req.Prompt. Submitting the prompt of the
// run that is already running returns that run's ID; any other prompt is
// rejected with domain.ErrRunAlreadyActive.
func (s *Service) StartRun(ctx context.Context, req domain.RunPromptRequest) (string, error) {
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return "", domain.ErrPromptRequired
	}

	s.controlMu.Lock()
	defer s.controlMu.Unlock()

	s.mu.RLock()
	var running *domain.RunState
	if s.current != nil && s.current.Status == domain.RunStatusRunning {
		snap := s.current.Clone()
		running = &snap
	}
	s.mu.RUnlock()

	if running != nil {
		if running.Prompt == prompt {
			return running.RunID, nil
		}
		return "", fmt.Errorf("%w: %s", domain.ErrRunAlreadyActive, running.RunID)
	}

	meta := domain.RunMeta{Name: req.Name, Model: req.Model, Path: req.Path, Org: req.Org}
	if err := s.admit(ctx, "start", prompt, meta); err != nil {
		return "", err
	}

	// The previous worker has already returned, but its goroutine may still be unwinding.
	s.stopActive()

	run := s.launch(ctx, prompt, meta, req.Config, "")
	return run.RunID, nil
}

// GetPhaseState returns a snapshot of the current run's phase state.
func (s *Service) GetPhaseState() domain.PhaseState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return domain.PhaseStateOf(s.current)
}

// CurrentRun returns a copy of the current run, or nil before the first run.
func (s *Service) CurrentRun() *domain.RunState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return nil
	}
	snap := s.current.Clone()
	return &snap
}

// launch installs a fresh run, resets the log and spawns its worker.
// Callers hold controlMu and have stopped the previous worker.
func (s *Service) launch(ctx context.Context, prompt string, meta domain.RunMeta, cfg []byte, previousRunID string) domain.RunState {
	run := &domain.RunState{
		RunID:     newRunID(),
		Prompt:    prompt,
		Status:    domain.RunStatusRunning,
		StartedAt: s.now(),
		Meta:      meta,
		Config:    cfg,
	}
	workerCtx, cancel := context.WithCancel(context.Background())
	aw := &activeWorker{runID: run.RunID, cancel: cancel, done: make(chan struct{})}

	s.mu.Lock()
	s.current = run
	s.writable = run.RunID
	s.active = aw
	s.log.Reset()
	snap := run.Clone()
	s.mu.Unlock()

	if err := s.store.CreateRun(ctx, &snap); err != nil {
		s.logger.Error("failed to archive run", "run_id", snap.RunID, "err", err)
	}
	if err := s.recordEvent(ctx, snap.RunID, domain.EventTypeRunStarted, domain.RunStartedPayload{
		Prompt:        prompt,
		PreviousRunID: previousRunID,
		Name:          meta.Name,
		Model:         meta.Model,
	}); err != nil {
		s.logger.Error("failed to record run_started event", "run_id", snap.RunID, "err", err)
	}

	s.publish(domain.StreamEvent{Type: domain.StreamEventReset, RunID: snap.RunID})
	s.publishPhase(&snap)
	s.logger.Info("run started", "run_id", snap.RunID, "previous_run_id", previousRunID)

	h := &RunHandle{svc: s, runID: snap.RunID, prompt: prompt}
	go s.runWorker(workerCtx, aw, snap, h)

	return snap
}

func (s *Service) runWorker(ctx context.Context, aw *activeWorker, run domain.RunState, h *RunHandle) {
	defer close(aw.done)
	defer aw.cancel()

	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("worker panic: %v", r)
			}
		}()
		err = s.worker.Run(ctx, run, h)
	}()

	s.finish(ctx, run.RunID, err)
}

// finish records the worker's outcome if the run is still the writable one.
func (s *Service) finish(ctx context.Context, runID string, workerErr error) {
	s.mu.Lock()
	if s.writable != runID || s.current == nil || s.current.RunID != runID {
		s.mu.Unlock()
		return
	}

	next := domain.RunStatusCompleted
	if workerErr != nil {
		next = domain.RunStatusCancelled
	}
	if err := domain.ValidateStatusTransition(s.current.Status, next); err != nil {
		s.mu.Unlock()
		s.logger.Warn("ignoring worker outcome", "run_id", runID, "err", err)
		return
	}

	now := s.now()
	s.current.Status = next
	s.current.CompletedAt = &now
	s.current.NeedsRestart = true
	if workerErr != nil {
		s.current.Error = fmt.Errorf("%w: %v", domain.ErrWorkerFailure, workerErr).Error()
	}
	s.writable = ""
	snap := s.current.Clone()
	messages := uint64(s.log.Len())
	// The worker context is done by now only if it was cancelled; archive with a fresh one.
	archiveCtx := context.WithoutCancel(ctx)
	s.archiveRun(archiveCtx, &snap)
	s.mu.Unlock()

	if workerErr != nil {
		code := "worker_error"
		if errors.Is(workerErr, context.Canceled) {
			code = "cancelled"
		}
		if err := s.recordEvent(archiveCtx, runID, domain.EventTypeRunFailed, domain.RunFailedPayload{
			Code:    code,
			Message: workerErr.Error(),
		}); err != nil {
			s.logger.Error("failed to record run_failed event", "run_id", runID, "err", err)
		}
		s.logger.Warn("run failed", "run_id", runID, "err", workerErr)
	} else {
		if err := s.recordEvent(archiveCtx, runID, domain.EventTypeRunCompleted, domain.RunCompletedPayload{
			Turns:    snap.CurrentTurn,
			Messages: messages,
		}); err != nil {
			s.logger.Error("failed to record run_completed event", "run_id", runID, "err", err)
		}
		s.logger.Info("run completed", "run_id", runID, "turns", snap.CurrentTurn)
	}

	s.publishPhase(&snap)
}

// admit evaluates the admission policy for a prompt.
func (s *Service) admit(ctx context.Context, action, prompt string, meta domain.RunMeta) error {
	if s.policyEngine == nil {
		return nil
	}
	maxLen := 0
	if s.config != nil {
		maxLen = s.config.MaxPromptLength
	}
	decision, err := s.policyEngine.Evaluate(ctx, policy.Input{
		Action: action,
		Prompt: prompt,
		Name:   meta.Name,
		Model:  meta.Model,
		Org:    meta.Org,
		Limits: policy.Limits{MaxPromptLength: maxLen},
	})
	if err != nil {
		return fmt.Errorf("failed to evaluate admission policy: %w", err)
	}
	if !decision.Allowed {
		return fmt.Errorf("%w: %s", domain.ErrPromptRejected, strings.Join(decision.Reasons, "; "))
	}
	return nil
}

// stopActive cancels the active worker and waits for it to return, at
// most WorkerStopTimeout. The caller must already have fenced its writes.
func (s *Service) stopActive() {
	s.mu.Lock()
	aw := s.active
	s.active = nil
	s.mu.Unlock()

	if aw == nil {
		return
	}
	aw.cancel()

	timeout := defaultWorkerStopTimeout
	if s.config != nil && s.config.WorkerStopTimeout > 0 {
		timeout = s.config.WorkerStopTimeout
	}
	select {
	case <-aw.done:
	case <-time.After(timeout):
		s.logger.Warn("worker did not stop in time, continuing with writes fenced", "run_id", aw.runID, "timeout", timeout)
	}
}

func newRunID() string {
	return "run_" + uuid.New().String()[:8]
}
