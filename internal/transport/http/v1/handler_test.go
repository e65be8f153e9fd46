package v1

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/gogo/phasectl/internal/config"
	"github.com/xiaot623/gogo/phasectl/internal/domain"
	"github.com/xiaot623/gogo/phasectl/internal/logging"
	"github.com/xiaot623/gogo/phasectl/internal/service"
	"github.com/xiaot623/gogo/phasectl/policy"
	"github.com/xiaot623/gogo/phasectl/tests/helpers"
)

// threeMessages appends three messages, one per turn, and completes.
var threeMessages = service.WorkerFunc(func(ctx context.Context, run domain.RunState, h service.Handle) error {
	for _, text := range []string{"plan", "code", "review"} {
		if _, err := h.Append(ctx, domain.MessageInput{Role: "Programmer", Text: text}); err != nil {
			return err
		}
		if _, err := h.AdvanceTurn(ctx); err != nil {
			return err
		}
	}
	return nil
})

func newTestHandler(t *testing.T, worker service.Worker) *Handler {
	t.Helper()
	store := helpers.NewTestSQLiteStore(t)
	engine, err := policy.NewEngine(context.Background(), policy.DefaultPolicy)
	require.NoError(t, err)

	cfg := &config.Config{WorkerStopTimeout: time.Second, MaxPromptLength: 100}
	svc := service.New(store, worker, engine, nil, cfg, logging.Discard())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = svc.Shutdown(ctx)
	})
	return NewHandler(svc, nil)
}

func doJSON(t *testing.T, handler echo.HandlerFunc, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	require.NoError(t, handler(e.NewContext(req, rec)))
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func phaseOf(t *testing.T, h *Handler) domain.PhaseState {
	t.Helper()
	rec := doJSON(t, h.GetPhaseState, http.MethodGet, "/api/phase/state", "")
	require.Equal(t, http.StatusOK, rec.Code)
	return decode[domain.PhaseStateResponse](t, rec).PhaseState
}

func startCompleted(t *testing.T, h *Handler, prompt string) string {
	t.Helper()
	rec := doJSON(t, h.RunPrompt, http.MethodPost, "/run_prompt", `{"prompt":"`+prompt+`"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	runID := decode[domain.RunPromptResponse](t, rec).RunID
	require.Eventually(t, func() bool { return phaseOf(t, h).IsCompleted }, 2*time.Second, 5*time.Millisecond)
	return runID
}

func TestPollingFlow(t *testing.T) {
	h := newTestHandler(t, threeMessages)

	before := phaseOf(t, h)
	assert.Equal(t, domain.RunStatusIdle, before.RunStatus)

	runID := startCompleted(t, h, "build a todo app")
	require.NotEmpty(t, runID)

	state := phaseOf(t, h)
	assert.Equal(t, runID, state.RunID)
	assert.Equal(t, "build a todo app", state.TaskPrompt)
	assert.Equal(t, 3, state.CurrentTurn)
	assert.True(t, state.NeedsRestart)

	rec := doJSON(t, h.GetMessages, http.MethodGet, "/get_messages", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, runID, rec.Header().Get(HeaderRunID))
	all := decode[[]domain.Message](t, rec)
	require.Len(t, all, 3)
	assert.Equal(t, "plan", all[0].Text)
	assert.Equal(t, "/static/avatars/Programmer.png", all[0].AvatarURL)

	rec = doJSON(t, h.GetMessagePage, http.MethodGet, "/api/messages?since=2&run_id="+runID, "")
	page := decode[domain.MessagePage](t, rec)
	require.Len(t, page.Messages, 1)
	assert.Equal(t, "review", page.Messages[0].Text)
	assert.Equal(t, uint64(3), page.NextCursor)

	rec = doJSON(t, h.GetMessagePage, http.MethodGet, "/api/messages?since=3", "")
	assert.Empty(t, decode[domain.MessagePage](t, rec).Messages)

	rec = doJSON(t, h.PhaseControl, http.MethodPost, "/api/phase/control", `{"action":"restart","restart_prompt":"build a calendar app","run_id":"`+runID+`"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[domain.ControlResponse](t, rec)
	assert.Equal(t, domain.StatusSuccess, resp.Status)
	require.NotNil(t, resp.PhaseState)
	assert.NotEqual(t, runID, resp.PhaseState.RunID)
	assert.Equal(t, "build a calendar app", resp.PhaseState.TaskPrompt)

	// A poller still holding the old run's cursor gets the new run from 0.
	rec = doJSON(t, h.GetMessagePage, http.MethodGet, "/api/messages?since=3&run_id="+runID, "")
	page = decode[domain.MessagePage](t, rec)
	assert.Equal(t, resp.PhaseState.RunID, page.RunID)
	for i, msg := range page.Messages {
		assert.Equal(t, uint64(i), msg.Index)
	}
}

func TestRunPromptForm(t *testing.T) {
	h := newTestHandler(t, threeMessages)

	form := url.Values{"prompt": {"build a todo app"}, "name": {"todo"}, "org": {"acme"}}
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/run_prompt", strings.NewReader(form.Encode()))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationForm)
	rec := httptest.NewRecorder()
	require.NoError(t, h.RunPrompt(e.NewContext(req, rec)))

	require.Equal(t, http.StatusOK, rec.Code)
	runID := decode[domain.RunPromptResponse](t, rec).RunID

	run, err := h.service.GetRun(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, "todo", run.Meta.Name)
	assert.Equal(t, "acme", run.Meta.Org)
}

func TestRunPromptErrors(t *testing.T) {
	block := service.WorkerFunc(func(ctx context.Context, run domain.RunState, h service.Handle) error {
		<-ctx.Done()
		return ctx.Err()
	})
	h := newTestHandler(t, block)

	tests := []struct {
		name string
		body string
		code int
	}{
		{"empty prompt", `{"prompt":"  "}`, http.StatusBadRequest},
		{"malformed", `{"prompt":`, http.StatusBadRequest},
		{"too long", `{"prompt":"` + strings.Repeat("x", 101) + `"}`, http.StatusForbidden},
		{"conclusion marker", `{"prompt":"<INFO> done"}`, http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doJSON(t, h.RunPrompt, http.MethodPost, "/run_prompt", tt.body)
			assert.Equal(t, tt.code, rec.Code)
			assert.Equal(t, domain.StatusError, decode[errorResponse](t, rec).Status)
		})
	}

	rec := doJSON(t, h.RunPrompt, http.MethodPost, "/run_prompt", `{"prompt":"build a todo app"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	first := decode[domain.RunPromptResponse](t, rec).RunID

	rec = doJSON(t, h.RunPrompt, http.MethodPost, "/run_prompt", `{"prompt":"build a todo app"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, first, decode[domain.RunPromptResponse](t, rec).RunID)

	rec = doJSON(t, h.RunPrompt, http.MethodPost, "/run_prompt", `{"prompt":"build a calendar app"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestPhaseControlErrors(t *testing.T) {
	h := newTestHandler(t, threeMessages)

	rec := doJSON(t, h.PhaseControl, http.MethodPost, "/api/phase/control", `{"action":"pause"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, h.PhaseControl, http.MethodPost, "/api/phase/control", `{"action":"continue"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	runID := startCompleted(t, h, "build a todo app")

	rec = doJSON(t, h.PhaseControl, http.MethodPost, "/api/phase/control", `{"action":"restart","run_id":"run_stale"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, runID, phaseOf(t, h).RunID)

	rec = doJSON(t, h.PhaseControl, http.MethodPost, "/api/phase/control", `{"action":"continue"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[domain.ControlResponse](t, rec)
	assert.Equal(t, runID, resp.PhaseState.RunID)
	assert.False(t, resp.PhaseState.NeedsRestart)
	assert.True(t, resp.PhaseState.IsCompleted)
}

func TestSendMessage(t *testing.T) {
	block := service.WorkerFunc(func(ctx context.Context, run domain.RunState, h service.Handle) error {
		<-ctx.Done()
		return ctx.Err()
	})
	h := newTestHandler(t, block)

	rec := doJSON(t, h.SendMessage, http.MethodPost, "/send_message", `{"role":"Reviewer","text":"hi"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, h.RunPrompt, http.MethodPost, "/run_prompt", `{"prompt":"build a todo app"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h.SendMessage, http.MethodPost, "/send_message", `{"role":"Reviewer","text":"hi"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h.SendMessage, http.MethodPost, "/send_message", `{"role":"Reviewer"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, h.SendMessage, http.MethodPost, "/send_message", `{"run_id":"run_old","role":"Reviewer","text":"late"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doJSON(t, h.GetMessages, http.MethodGet, "/get_messages", "")
	messages := decode[[]domain.Message](t, rec)
	require.Len(t, messages, 1)
	assert.Equal(t, "Reviewer", messages[0].Role)
}

func TestGetMessagesBadCursor(t *testing.T) {
	h := newTestHandler(t, threeMessages)

	rec := doJSON(t, h.GetMessages, http.MethodGet, "/get_messages?since=abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, h.GetMessages, http.MethodGet, "/get_messages?since=-4", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]\n", rec.Body.String())
}

func TestRunArchive(t *testing.T) {
	h := newTestHandler(t, threeMessages)
	runID := startCompleted(t, h, "build a todo app")

	rec := doJSON(t, h.ListRuns, http.MethodGet, "/api/runs", "")
	require.Equal(t, http.StatusOK, rec.Code)
	runs := decode[struct {
		Runs []domain.RunSummary `json:"runs"`
	}](t, rec).Runs
	require.Len(t, runs, 1)
	assert.Equal(t, 3, runs[0].MessageCount)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/runs/"+runID+"/events?types=run_completed", nil)
	rec = httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("run_id")
	c.SetParamValues(runID)
	require.NoError(t, h.GetRunEvents(c))
	require.Equal(t, http.StatusOK, rec.Code)
	events := decode[struct {
		Events []domain.Event `json:"events"`
	}](t, rec).Events
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventTypeRunCompleted, events[0].Type)

	req = httptest.NewRequest(http.MethodGet, "/api/runs/run_missing", nil)
	rec = httptest.NewRecorder()
	c = e.NewContext(req, rec)
	c.SetParamNames("run_id")
	c.SetParamValues("run_missing")
	require.NoError(t, h.GetRun(c))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealth(t *testing.T) {
	h := newTestHandler(t, threeMessages)

	rec := doJSON(t, h.Health, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"healthy"`)
}
