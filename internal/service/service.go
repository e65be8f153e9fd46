// Package service implements the run controller: it owns the current run
// and its message log, serializes control actions and supervises the
// worker producing the run's messages.
package service

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xiaot623/gogo/phasectl/internal/config"
	"github.com/xiaot623/gogo/phasectl/internal/domain"
	"github.com/xiaot623/gogo/phasectl/internal/logging"
	"github.com/xiaot623/gogo/phasectl/internal/messagelog"
	"github.com/xiaot623/gogo/phasectl/internal/repository"
	"github.com/xiaot623/gogo/phasectl/policy"
)

// Handle is the mutation capability a worker receives for exactly one run.
// Every call fails with domain.ErrStaleRun once the run has been replaced.
type Handle interface {
	RunID() string
	Prompt() string
	Append(ctx context.Context, in domain.MessageInput) (uint64, error)
	AdvanceTurn(ctx context.Context) (int, error)
}

// Worker produces the messages of a run. Returning nil completes the run,
// returning an error cancels it. Run must return promptly once ctx is done.
type Worker interface {
	Run(ctx context.Context, run domain.RunState, h Handle) error
}

// WorkerFunc adapts a function to Worker.
type WorkerFunc func(ctx context.Context, run domain.RunState, h Handle) error

// Run calls f.
func (f WorkerFunc) Run(ctx context.Context, run domain.RunState, h Handle) error {
	return f(ctx, run, h)
}

// Publisher receives stream events for push delivery. Publish must not block.
type Publisher interface {
	Publish(event domain.StreamEvent)
}

type Service struct {
	store        repository.Store
	worker       Worker
	policyEngine *policy.Engine
	publisher    Publisher
	config       *config.Config
	logger       *slog.Logger
	now          func() time.Time

	// controlMu serializes start, continue, restart and shutdown.
	controlMu  sync.Mutex
	restarting atomic.Bool

	// mu guards current, writable, active and swaps of the log.
	mu       sync.RWMutex
	current  *domain.RunState
	writable string
	active   *activeWorker
	log      *messagelog.Log
}

type activeWorker struct {
	runID  string
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a run controller. policyEngine and publisher may be nil.
func New(store repository.Store, worker Worker, policyEngine *policy.Engine, publisher Publisher, cfg *config.Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Service{
		store:        store,
		worker:       worker,
		policyEngine: policyEngine,
		publisher:    publisher,
		config:       cfg,
		logger:       logger,
		now:          time.Now,
		log:          messagelog.New(),
	}
}
