package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/gogo/phasectl/internal/domain"
)

// RunPrompt starts a run.
// POST /run_prompt
func (h *Handler) RunPrompt(c echo.Context) error {
	var req domain.RunPromptRequest
	if err := c.Bind(&req); err != nil {
		return fail(c, http.StatusBadRequest, "invalid request body")
	}

	runID, err := h.service.StartRun(c.Request().Context(), req)
	if err != nil {
		return failErr(c, err)
	}

	return c.JSON(http.StatusOK, domain.RunPromptResponse{
		Status:  domain.StatusSuccess,
		Message: "run started",
		RunID:   runID,
	})
}

// GetPhaseState returns the current run's phase state.
// GET /api/phase/state
func (h *Handler) GetPhaseState(c echo.Context) error {
	return c.JSON(http.StatusOK, domain.PhaseStateResponse{
		Status:     domain.StatusSuccess,
		PhaseState: h.service.GetPhaseState(),
	})
}

// PhaseControl applies a continue or restart decision.
// POST /api/phase/control
func (h *Handler) PhaseControl(c echo.Context) error {
	var req domain.ControlRequest
	if err := c.Bind(&req); err != nil {
		return fail(c, http.StatusBadRequest, "invalid request body")
	}
	if !req.Action.Valid() {
		return fail(c, http.StatusBadRequest, "action must be continue or restart")
	}

	state, err := h.service.SubmitControlAction(c.Request().Context(), req)
	if err != nil {
		return failErr(c, err)
	}

	message := "run acknowledged"
	if req.Action == domain.ControlActionRestart {
		message = "run restarted"
	}
	return c.JSON(http.StatusOK, domain.ControlResponse{
		Status:     domain.StatusSuccess,
		Message:    message,
		PhaseState: &state,
	})
}
