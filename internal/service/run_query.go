package service

import (
	"context"
	"fmt"

	"github.com/xiaot623/gogo/phasectl/internal/domain"
)

const defaultListLimit = 50

// ListRuns returns archived runs, newest first.
func (s *Service) ListRuns(ctx context.Context, limit int) ([]domain.RunSummary, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	runs, err := s.store.ListRuns(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	return runs, nil
}

// GetRun returns an archived run. The current run is served from memory.
func (s *Service) GetRun(ctx context.Context, runID string) (*domain.RunState, error) {
	if cur := s.CurrentRun(); cur != nil && cur.RunID == runID {
		return cur, nil
	}
	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	if run == nil {
		return nil, domain.ErrRunNotFound
	}
	return run, nil
}

// GetRunMessages returns archived messages of any run, including abandoned ones.
func (s *Service) GetRunMessages(ctx context.Context, runID string, cursor uint64, limit int) ([]domain.Message, error) {
	if _, err := s.GetRun(ctx, runID); err != nil {
		return nil, err
	}
	messages, err := s.store.GetMessages(ctx, runID, cursor, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get run messages: %w", err)
	}
	return messages, nil
}

func (s *Service) GetRunEvents(ctx context.Context, runID string, afterTs int64, types []string, limit int) ([]domain.Event, error) {
	if _, err := s.GetRun(ctx, runID); err != nil {
		return nil, err
	}
	events, err := s.store.GetEvents(ctx, runID, afterTs, types, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get run events: %w", err)
	}
	return events, nil
}
