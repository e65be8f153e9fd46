package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/xiaot623/gogo/phasectl/internal/domain"
)

// recordEvent records an event to the run archive.
func (s *Service) recordEvent(ctx context.Context, runID string, eventType domain.EventType, payload interface{}) error {
	var payloadBytes json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal payload: %w", err)
		}
		payloadBytes = b
	}

	event := &domain.Event{
		EventID: "evt_" + uuid.New().String()[:8],
		RunID:   runID,
		Ts:      s.now().UnixMilli(),
		Type:    eventType,
		Payload: payloadBytes,
	}

	return s.store.CreateEvent(ctx, event)
}

// archiveRun writes the run's latest state. Archive failures never fail
// a control action; the live state stays authoritative.
func (s *Service) archiveRun(ctx context.Context, run *domain.RunState) {
	if err := s.store.UpdateRun(ctx, run); err != nil {
		s.logger.Error("failed to archive run state", "run_id", run.RunID, "status", run.Status, "err", err)
	}
}

func (s *Service) publish(event domain.StreamEvent) {
	if s.publisher == nil {
		return
	}
	if event.Ts == 0 {
		event.Ts = s.now().UnixMilli()
	}
	s.publisher.Publish(event)
}

func (s *Service) publishPhase(run *domain.RunState) {
	phase := domain.PhaseStateOf(run)
	s.publish(domain.StreamEvent{Type: domain.StreamEventPhase, RunID: run.RunID, Phase: &phase})
}
