// Package pollsync is the client side of the polling contract: it submits
// prompts and control actions and fetches new messages with a cursor that
// resets whenever the server reports a different run.
package pollsync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/xiaot623/gogo/phasectl/internal/domain"
)

// DefaultInterval is the polling cadence used by Follow when none is given.
const DefaultInterval = time.Second

// Client polls a phase controller.
type Client struct {
	baseURL    string
	httpClient *http.Client

	mu     sync.Mutex
	runID  string
	cursor uint64
}

// NewClient creates a new polling client.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Update is the result of one poll.
type Update struct {
	RunID string
	// Reset is set when the run changed since the previous poll; Messages
	// then start at index 0 of the new run.
	Reset    bool
	Messages []domain.Message
}

// APIError is a non-2xx reply from the controller.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("phase controller returned %d: %s", e.StatusCode, e.Message)
}

// Cursor returns the run and cursor the next poll will use.
func (c *Client) Cursor() (string, uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.runID, c.cursor
}

// RunPrompt starts a run and returns its ID.
func (c *Client) RunPrompt(ctx context.Context, req domain.RunPromptRequest) (string, error) {
	var resp domain.RunPromptResponse
	if err := c.do(ctx, http.MethodPost, "/run_prompt", req, &resp); err != nil {
		return "", err
	}
	return resp.RunID, nil
}

// Poll fetches the messages appended since the previous poll.
func (c *Client) Poll(ctx context.Context) (Update, error) {
	c.mu.Lock()
	runID, cursor := c.runID, c.cursor
	c.mu.Unlock()

	q := url.Values{}
	q.Set("since", strconv.FormatUint(cursor, 10))
	if runID != "" {
		q.Set("run_id", runID)
	}
	var page domain.MessagePage
	if err := c.do(ctx, http.MethodGet, "/api/messages?"+q.Encode(), nil, &page); err != nil {
		return Update{}, err
	}

	update := Update{RunID: page.RunID, Messages: page.Messages}
	if page.RunID != runID {
		update.Reset = runID != "" || cursor > 0
	}

	c.mu.Lock()
	c.runID, c.cursor = page.RunID, page.NextCursor
	c.mu.Unlock()
	return update, nil
}

// PhaseState fetches the current phase state.
func (c *Client) PhaseState(ctx context.Context) (domain.PhaseState, error) {
	var resp domain.PhaseStateResponse
	if err := c.do(ctx, http.MethodGet, "/api/phase/state", nil, &resp); err != nil {
		return domain.PhaseState{}, err
	}
	return resp.PhaseState, nil
}

// Control submits a continue or restart for the run this client last saw.
func (c *Client) Control(ctx context.Context, action domain.ControlAction, restartPrompt string) (domain.PhaseState, error) {
	c.mu.Lock()
	runID := c.runID
	c.mu.Unlock()

	var resp domain.ControlResponse
	req := domain.ControlRequest{Action: action, RestartPrompt: restartPrompt, RunID: runID}
	if err := c.do(ctx, http.MethodPost, "/api/phase/control", req, &resp); err != nil {
		return domain.PhaseState{}, err
	}
	if resp.PhaseState == nil {
		return domain.PhaseState{}, fmt.Errorf("control response without phase state")
	}
	return *resp.PhaseState, nil
}

// Follow polls every interval until ctx is done, calling fn for every
// update that carries messages or a reset. Poll errors are passed to
// onErr when set and polling continues.
func (c *Client) Follow(ctx context.Context, interval time.Duration, fn func(Update), onErr func(error)) error {
	if interval <= 0 {
		interval = DefaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		update, err := c.Poll(ctx)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if onErr != nil {
				onErr(err)
			}
		case update.Reset || len(update.Messages) > 0:
			fn(update)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var errResp struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Message != "" {
			return &APIError{StatusCode: resp.StatusCode, Message: errResp.Message}
		}
		return &APIError{StatusCode: resp.StatusCode, Message: string(respBody)}
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return nil
}
