package repository

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/gogo/phasectl/internal/domain"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSQLiteStoreRunLifecycle(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	run := &domain.RunState{
		RunID:     "run_1",
		Prompt:    "build a todo app",
		Status:    domain.RunStatusRunning,
		StartedAt: time.Now(),
		Meta:      domain.RunMeta{Name: "todo", Model: "gpt-4o-mini", Org: "acme"},
		Config:    json.RawMessage(`{"turns":3}`),
	}
	require.NoError(t, store.CreateRun(ctx, run))

	now := time.Now()
	run.Status = domain.RunStatusCompleted
	run.CurrentTurn = 3
	run.NeedsRestart = true
	run.CompletedAt = &now
	require.NoError(t, store.UpdateRun(ctx, run))

	got, err := store.GetRun(ctx, "run_1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, domain.RunStatusCompleted, got.Status)
	assert.Equal(t, 3, got.CurrentTurn)
	assert.True(t, got.NeedsRestart)
	assert.NotNil(t, got.CompletedAt)
	assert.Equal(t, "acme", got.Meta.Org)
	assert.JSONEq(t, `{"turns":3}`, string(got.Config))
}

func TestSQLiteStoreGetRunUnknown(t *testing.T) {
	store := newTestStore(t)

	got, err := store.GetRun(context.Background(), "missing")
	assert.NoError(t, err)
	assert.Nil(t, got)
}

func TestSQLiteStoreUpdateUnknownRun(t *testing.T) {
	store := newTestStore(t)

	err := store.UpdateRun(context.Background(), &domain.RunState{RunID: "missing", Status: domain.RunStatusCompleted})
	assert.ErrorIs(t, err, domain.ErrRunNotFound)
}

func TestSQLiteStoreMessages(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	require.NoError(t, store.CreateRun(ctx, &domain.RunState{RunID: "run_1", Prompt: "p", Status: domain.RunStatusRunning, StartedAt: time.Now()}))
	for i := 0; i < 3; i++ {
		msg := &domain.Message{
			Index:     uint64(i),
			RunID:     "run_1",
			Role:      "Programmer",
			Text:      "hello",
			AvatarURL: domain.AvatarURL("Programmer"),
			CreatedAt: time.Now(),
		}
		require.NoError(t, store.CreateMessage(ctx, msg))
	}

	all, err := store.GetMessages(ctx, "run_1", 0, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, uint64(2), all[2].Index)
	assert.Equal(t, "/static/avatars/Programmer.png", all[0].AvatarURL)

	tail, err := store.GetMessages(ctx, "run_1", 2, 10)
	require.NoError(t, err)
	require.Len(t, tail, 1)
	assert.Equal(t, uint64(2), tail[0].Index)

	dup := &domain.Message{Index: 1, RunID: "run_1", Role: "r", Text: "dup", CreatedAt: time.Now()}
	assert.Error(t, store.CreateMessage(ctx, dup))
}

func TestSQLiteStoreListRuns(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	base := time.Now()
	require.NoError(t, store.CreateRun(ctx, &domain.RunState{RunID: "run_a", Prompt: "a", Status: domain.RunStatusCancelled, StartedAt: base}))
	require.NoError(t, store.CreateRun(ctx, &domain.RunState{RunID: "run_b", Prompt: "b", Status: domain.RunStatusRunning, StartedAt: base.Add(time.Second)}))
	require.NoError(t, store.CreateMessage(ctx, &domain.Message{Index: 0, RunID: "run_a", Role: "r", Text: "x", CreatedAt: base}))

	runs, err := store.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run_b", runs[0].RunID)
	assert.Equal(t, 0, runs[0].MessageCount)
	assert.Equal(t, "run_a", runs[1].RunID)
	assert.Equal(t, 1, runs[1].MessageCount)

	limited, err := store.ListRuns(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestSQLiteStoreEvents(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	require.NoError(t, store.CreateRun(ctx, &domain.RunState{RunID: "run_1", Prompt: "p", Status: domain.RunStatusRunning, StartedAt: time.Now()}))

	ts := time.Now().UnixMilli()
	require.NoError(t, store.CreateEvent(ctx, &domain.Event{EventID: "e1", RunID: "run_1", Ts: ts, Type: domain.EventTypeRunStarted, Payload: json.RawMessage(`{"prompt":"p"}`)}))
	require.NoError(t, store.CreateEvent(ctx, &domain.Event{EventID: "e2", RunID: "run_1", Ts: ts + 1, Type: domain.EventTypeRunCompleted}))

	events, err := store.GetEvents(ctx, "run_1", 0, nil, 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, domain.EventTypeRunStarted, events[0].Type)

	filtered, err := store.GetEvents(ctx, "run_1", 0, []string{string(domain.EventTypeRunCompleted)}, 10)
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, "e2", filtered[0].EventID)

	after, err := store.GetEvents(ctx, "run_1", ts, nil, 10)
	require.NoError(t, err)
	assert.Len(t, after, 1)
}

func TestSQLiteStoreMigrateIsIdempotent(t *testing.T) {
	store := newTestStore(t)

	assert.NoError(t, store.migrate())
	assert.NoError(t, store.ensureColumn("runs", "config", "ALTER TABLE runs ADD COLUMN config TEXT"))
}
