package pollsync

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/gogo/phasectl/internal/config"
	"github.com/xiaot623/gogo/phasectl/internal/domain"
	"github.com/xiaot623/gogo/phasectl/internal/logging"
	"github.com/xiaot623/gogo/phasectl/internal/service"
	v1 "github.com/xiaot623/gogo/phasectl/internal/transport/http/v1"
	"github.com/xiaot623/gogo/phasectl/tests/helpers"
)

// gate lets the test decide when each run produces a message. emit
// returns once the message is in the log.
type gate struct {
	steps chan string
	acks  chan struct{}
}

func (g *gate) Run(ctx context.Context, run domain.RunState, h service.Handle) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case text := <-g.steps:
			if text == "" {
				return nil
			}
			if _, err := h.Append(ctx, domain.MessageInput{Role: "Programmer", Text: text}); err != nil {
				return err
			}
			g.acks <- struct{}{}
		}
	}
}

func (g *gate) emit(texts ...string) {
	for _, text := range texts {
		g.steps <- text
		<-g.acks
	}
}

func (g *gate) finish() {
	g.steps <- ""
}

func newTestController(t *testing.T) (*Client, *gate) {
	t.Helper()
	store := helpers.NewTestSQLiteStore(t)

	g := &gate{steps: make(chan string), acks: make(chan struct{})}
	cfg := &config.Config{WorkerStopTimeout: time.Second}
	svc := service.New(store, g, nil, nil, cfg, logging.Discard())

	e := echo.New()
	v1.NewHandler(svc, nil).RegisterRoutes(e)
	srv := httptest.NewServer(e)
	t.Cleanup(func() {
		srv.Close()
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = svc.Shutdown(ctx)
	})
	return NewClient(srv.URL, time.Second), g
}

func TestPollTracksCursor(t *testing.T) {
	ctx := context.Background()
	client, g := newTestController(t)

	update, err := client.Poll(ctx)
	require.NoError(t, err)
	assert.Empty(t, update.Messages)
	assert.False(t, update.Reset)

	runID, err := client.RunPrompt(ctx, domain.RunPromptRequest{Prompt: "build a todo app"})
	require.NoError(t, err)
	g.emit("a", "b")

	update, err = client.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, runID, update.RunID)
	require.Len(t, update.Messages, 2)

	update, err = client.Poll(ctx)
	require.NoError(t, err)
	assert.Empty(t, update.Messages)

	g.emit("c")
	update, err = client.Poll(ctx)
	require.NoError(t, err)
	require.Len(t, update.Messages, 1)
	assert.Equal(t, uint64(2), update.Messages[0].Index)

	gotRun, cursor := client.Cursor()
	assert.Equal(t, runID, gotRun)
	assert.Equal(t, uint64(3), cursor)
}

func TestPollResetsOnRestart(t *testing.T) {
	ctx := context.Background()
	client, g := newTestController(t)

	first, err := client.RunPrompt(ctx, domain.RunPromptRequest{Prompt: "build a todo app"})
	require.NoError(t, err)
	g.emit("a", "b")
	g.finish()
	require.Eventually(t, func() bool {
		state, err := client.PhaseState(ctx)
		return err == nil && state.IsCompleted
	}, 2*time.Second, 5*time.Millisecond)

	_, err = client.Poll(ctx)
	require.NoError(t, err)

	state, err := client.Control(ctx, domain.ControlActionRestart, "build a calendar app")
	require.NoError(t, err)
	assert.NotEqual(t, first, state.RunID)
	g.emit("x")

	update, err := client.Poll(ctx)
	require.NoError(t, err)
	assert.True(t, update.Reset)
	assert.Equal(t, state.RunID, update.RunID)
	require.Len(t, update.Messages, 1)
	assert.Equal(t, uint64(0), update.Messages[0].Index)
	assert.Equal(t, "x", update.Messages[0].Text)
}

func TestControlPinsObservedRun(t *testing.T) {
	ctx := context.Background()
	stale, _ := newTestController(t)

	_, err := stale.RunPrompt(ctx, domain.RunPromptRequest{Prompt: "build a todo app"})
	require.NoError(t, err)
	_, err = stale.Poll(ctx)
	require.NoError(t, err)

	// Another client restarts first.
	other := NewClient(stale.baseURL, time.Second)
	_, err = other.Poll(ctx)
	require.NoError(t, err)
	_, err = other.Control(ctx, domain.ControlActionRestart, "")
	require.NoError(t, err)

	_, err = stale.Control(ctx, domain.ControlActionRestart, "")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusConflict, apiErr.StatusCode)
}

func TestRunPromptError(t *testing.T) {
	client, _ := newTestController(t)

	_, err := client.RunPrompt(context.Background(), domain.RunPromptRequest{Prompt: ""})
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Contains(t, apiErr.Message, "prompt is required")
}

func TestFollowDeliversUpdates(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	client, g := newTestController(t)

	_, err := client.RunPrompt(ctx, domain.RunPromptRequest{Prompt: "build a todo app"})
	require.NoError(t, err)

	var mu sync.Mutex
	var texts []string
	done := make(chan error, 1)
	go func() {
		done <- client.Follow(ctx, 5*time.Millisecond, func(u Update) {
			mu.Lock()
			defer mu.Unlock()
			for _, m := range u.Messages {
				texts = append(texts, m.Text)
			}
		}, nil)
	}()

	g.emit("a", "b", "c")
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(texts) == 3
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"a", "b", "c"}, texts)
}
