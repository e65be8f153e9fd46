package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/gogo/phasectl/internal/domain"
)

// HeaderRunID carries the current run ID on /get_messages responses.
const HeaderRunID = "X-Run-Id"

// GetMessages returns the current run's messages as a bare list, from
// ?since=N when given.
// GET /get_messages
func (h *Handler) GetMessages(c echo.Context) error {
	cursor, err := parseCursor(c)
	if err != nil {
		return fail(c, http.StatusBadRequest, "since must be an integer")
	}

	page := h.service.GetMessagesSince(c.QueryParam("run_id"), cursor)
	c.Response().Header().Set(HeaderRunID, page.RunID)
	return c.JSON(http.StatusOK, page.Messages)
}

type messagePageResponse struct {
	Status string `json:"status"`
	domain.MessagePage
}

// GetMessagePage returns an incremental page with the cursor to poll from next.
// GET /api/messages
func (h *Handler) GetMessagePage(c echo.Context) error {
	cursor, err := parseCursor(c)
	if err != nil {
		return fail(c, http.StatusBadRequest, "since must be an integer")
	}

	page := h.service.GetMessagesSince(c.QueryParam("run_id"), cursor)
	return c.JSON(http.StatusOK, messagePageResponse{Status: domain.StatusSuccess, MessagePage: page})
}

// SendMessage appends a message produced outside the worker.
// POST /send_message
func (h *Handler) SendMessage(c echo.Context) error {
	var req domain.SendMessageRequest
	if err := c.Bind(&req); err != nil {
		return fail(c, http.StatusBadRequest, "invalid request body")
	}

	msg, err := h.service.AppendMessage(c.Request().Context(), req)
	if err != nil {
		return failErr(c, err)
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":  domain.StatusSuccess,
		"message": msg,
	})
}
