// Package v1 provides the HTTP handlers of the phase controller.
package v1

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/gogo/phasectl/internal/domain"
	"github.com/xiaot623/gogo/phasectl/internal/service"
)

// ConnectionCounter reports live websocket subscribers.
type ConnectionCounter interface {
	GetConnectionCount() int
}

// Handler handles HTTP requests.
type Handler struct {
	service *service.Service
	conns   ConnectionCounter
}

// NewHandler creates a new handler. conns may be nil.
func NewHandler(service *service.Service, conns ConnectionCounter) *Handler {
	return &Handler{
		service: service,
		conns:   conns,
	}
}

// RegisterRoutes registers routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	// Polling contract
	e.POST("/run_prompt", h.RunPrompt)
	e.GET("/get_messages", h.GetMessages)
	e.POST("/send_message", h.SendMessage)
	e.GET("/api/messages", h.GetMessagePage)
	e.GET("/api/phase/state", h.GetPhaseState)
	e.POST("/api/phase/control", h.PhaseControl)

	// Run archive
	e.GET("/api/runs", h.ListRuns)
	e.GET("/api/runs/:run_id", h.GetRun)
	e.GET("/api/runs/:run_id/messages", h.GetRunMessages)
	e.GET("/api/runs/:run_id/events", h.GetRunEvents)

	e.GET("/health", h.Health)
}

// Health returns health status.
func (h *Handler) Health(c echo.Context) error {
	resp := map[string]interface{}{
		"status":     "healthy",
		"run_status": h.service.GetPhaseState().RunStatus,
	}
	if h.conns != nil {
		resp["connections"] = h.conns.GetConnectionCount()
	}
	return c.JSON(http.StatusOK, resp)
}

type errorResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

func fail(c echo.Context, code int, message string) error {
	return c.JSON(code, errorResponse{Status: domain.StatusError, Message: message})
}

// failErr maps a service error to its HTTP status.
func failErr(c echo.Context, err error) error {
	return fail(c, statusFor(err), err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrPromptRequired), errors.Is(err, domain.ErrInvalidMessage):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrPromptRejected):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrNoActiveRun), errors.Is(err, domain.ErrRunNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrRunAlreadyActive),
		errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrStaleRun):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// parseCursor reads ?since=N. Negative values are treated as 0.
func parseCursor(c echo.Context) (uint64, error) {
	v := c.QueryParam("since")
	if v == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, nil
	}
	return uint64(n), nil
}

func queryInt(c echo.Context, name string, def int) int {
	if v := c.QueryParam(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
