// Package repository archives runs, their messages and control events.
package repository

import (
	"context"

	"github.com/xiaot623/gogo/phasectl/internal/domain"
)

// Store defines the interface for run archive persistence.
type Store interface {
	// Run operations
	CreateRun(ctx context.Context, run *domain.RunState) error
	UpdateRun(ctx context.Context, run *domain.RunState) error
	GetRun(ctx context.Context, runID string) (*domain.RunState, error)
	ListRuns(ctx context.Context, limit int) ([]domain.RunSummary, error)

	// Message operations
	CreateMessage(ctx context.Context, message *domain.Message) error
	GetMessages(ctx context.Context, runID string, cursor uint64, limit int) ([]domain.Message, error)

	// Event operations
	CreateEvent(ctx context.Context, event *domain.Event) error
	GetEvents(ctx context.Context, runID string, afterTs int64, types []string, limit int) ([]domain.Event, error)

	// Lifecycle
	Close() error
}

var _ Store = (*SQLiteStore)(nil)
