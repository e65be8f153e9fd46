package v1

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/gogo/phasectl/internal/domain"
)

// ListRuns lists archived runs, newest first.
// GET /api/runs
func (h *Handler) ListRuns(c echo.Context) error {
	runs, err := h.service.ListRuns(c.Request().Context(), queryInt(c, "limit", 50))
	if err != nil {
		return failErr(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status": domain.StatusSuccess,
		"runs":   runs,
	})
}

// GetRun retrieves one run.
// GET /api/runs/:run_id
func (h *Handler) GetRun(c echo.Context) error {
	run, err := h.service.GetRun(c.Request().Context(), c.Param("run_id"))
	if err != nil {
		return failErr(c, err)
	}
	return c.JSON(http.StatusOK, run)
}

// GetRunMessages retrieves archived messages of a run, including abandoned runs.
// GET /api/runs/:run_id/messages
func (h *Handler) GetRunMessages(c echo.Context) error {
	cursor, err := parseCursor(c)
	if err != nil {
		return fail(c, http.StatusBadRequest, "since must be an integer")
	}
	messages, err := h.service.GetRunMessages(c.Request().Context(), c.Param("run_id"), cursor, queryInt(c, "limit", 0))
	if err != nil {
		return failErr(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":   domain.StatusSuccess,
		"messages": messages,
	})
}

// GetRunEvents retrieves events for a run.
// GET /api/runs/:run_id/events?after_ts=&types=a,b&limit=
func (h *Handler) GetRunEvents(c echo.Context) error {
	afterTs := int64(queryInt(c, "after_ts", 0))
	var types []string
	if t := c.QueryParam("types"); t != "" {
		types = strings.Split(t, ",")
	}

	events, err := h.service.GetRunEvents(c.Request().Context(), c.Param("run_id"), afterTs, types, queryInt(c, "limit", 100))
	if err != nil {
		return failErr(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status": domain.StatusSuccess,
		"events": events,
	})
}
