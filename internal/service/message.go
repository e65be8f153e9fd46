package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/xiaot623/gogo/phasectl/internal/domain"
)

// GetMessagesSince returns the current run's messages from cursor on.
// When runID names a run other than the current one the cursor is reset
// to 0, so a client that missed a restart receives the new log in full.
func (s *Service) GetMessagesSince(runID string, cursor uint64) domain.MessagePage {
	s.mu.RLock()
	defer s.mu.RUnlock()

	page := domain.MessagePage{Messages: []domain.Message{}}
	if s.current == nil {
		return page
	}
	page.RunID = s.current.RunID
	if runID != "" && runID != s.current.RunID {
		cursor = 0
	}
	page.Messages = s.log.Since(cursor)
	page.NextCursor = cursor + uint64(len(page.Messages))
	if n := uint64(s.log.Len()); page.NextCursor > n {
		page.NextCursor = n
	}
	return page
}

// AppendMessage appends an externally produced message to the running run.
func (s *Service) AppendMessage(ctx context.Context, req domain.SendMessageRequest) (domain.Message, error) {
	if strings.TrimSpace(req.Role) == "" {
		return domain.Message{}, fmt.Errorf("%w: role is required", domain.ErrInvalidMessage)
	}
	if req.Text == "" {
		return domain.Message{}, fmt.Errorf("%w: text is required", domain.ErrInvalidMessage)
	}

	runID := req.RunID
	if runID == "" {
		s.mu.RLock()
		runID = s.writable
		s.mu.RUnlock()
		if runID == "" {
			return domain.Message{}, domain.ErrNoActiveRun
		}
	}
	return s.appendMessage(ctx, runID, domain.MessageInput{Role: req.Role, Text: req.Text, AvatarURL: req.AvatarURL})
}

// appendMessage appends to the log if runID is still writable. The check
// and the append happen under one read lock so a reset cannot interleave.
func (s *Service) appendMessage(ctx context.Context, runID string, in domain.MessageInput) (domain.Message, error) {
	if in.AvatarURL == "" {
		in.AvatarURL = domain.AvatarURL(in.Role)
	}

	s.mu.RLock()
	if s.writable != runID {
		s.mu.RUnlock()
		return domain.Message{}, fmt.Errorf("%w: %s", domain.ErrStaleRun, runID)
	}
	msg := s.log.Append(domain.Message{
		RunID:     runID,
		Role:      in.Role,
		Text:      in.Text,
		AvatarURL: in.AvatarURL,
	})
	s.mu.RUnlock()

	if err := s.store.CreateMessage(ctx, &msg); err != nil {
		s.logger.Error("failed to archive message", "run_id", runID, "index", msg.Index, "err", err)
	}
	s.publish(domain.StreamEvent{Type: domain.StreamEventMessage, RunID: runID, Message: &msg})
	return msg, nil
}
