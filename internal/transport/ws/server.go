// Package ws streams the current run's messages and phase changes to
// websocket clients as an alternative to polling.
package ws

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/xiaot623/gogo/phasectl/internal/config"
	"github.com/xiaot623/gogo/phasectl/internal/domain"
	"github.com/xiaot623/gogo/phasectl/internal/hub"
)

const maxMessageSize = 4096

// MessageSource is the read side of the run controller.
type MessageSource interface {
	GetMessagesSince(runID string, cursor uint64) domain.MessagePage
	GetPhaseState() domain.PhaseState
}

// Server handles WebSocket connections.
type Server struct {
	cfg      *config.Config
	hub      *hub.Hub
	source   MessageSource
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewServer creates a new WebSocket server.
func NewServer(cfg *config.Config, h *hub.Hub, source MessageSource, logger *slog.Logger) *Server {
	return &Server{
		cfg:    cfg,
		hub:    h,
		source: source,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		logger: logger,
	}
}

// HandleWebSocket upgrades the request and streams from ?since=N for ?run_id=X.
// GET /ws
func (s *Server) HandleWebSocket(c echo.Context) error {
	since := uint64(0)
	if v := c.QueryParam("since"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "since must be an integer"})
		}
		if n > 0 {
			since = uint64(n)
		}
	}
	runID := c.QueryParam("run_id")

	ws, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.logger.Warn("failed to upgrade websocket", "err", err)
		return nil
	}

	// Register before reading the backlog so no live event falls in between.
	conn := s.hub.NewConnection(ws)
	s.hub.Register(conn)
	ws.SetReadLimit(maxMessageSize)

	go s.writePump(conn, runID, since)
	go s.readPump(conn)

	return nil
}

// readPump drains client frames so pongs and close frames are processed.
func (s *Server) readPump(conn *hub.Connection) {
	defer func() {
		s.hub.Unregister(conn)
		conn.Close()
	}()

	readTimeout := 2 * s.cfg.PingInterval
	conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.Conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})

	for {
		if _, _, err := conn.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug("websocket closed", "conn_id", conn.ID, "err", err)
			}
			return
		}
	}
}

// stream tracks what a connection has been sent so far.
type stream struct {
	runID string
	next  uint64
}

func (s *Server) writePump(conn *hub.Connection, runID string, since uint64) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	st := &stream{runID: runID, next: since}
	phase := s.source.GetPhaseState()
	if err := s.write(conn, domain.StreamEvent{Type: domain.StreamEventPhase, RunID: phase.RunID, Ts: time.Now().UnixMilli(), Phase: &phase}); err != nil {
		return
	}
	if err := s.catchUp(conn, st); err != nil {
		return
	}

	for {
		select {
		case event, ok := <-conn.Send:
			if !ok {
				conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.forward(conn, st, event); err != nil {
				s.logger.Debug("failed to write event", "conn_id", conn.ID, "err", err)
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// forward writes a live event, skipping messages already sent and
// filling gaps from the log when events were dropped upstream.
func (s *Server) forward(conn *hub.Connection, st *stream, event domain.StreamEvent) error {
	switch event.Type {
	case domain.StreamEventReset:
		if event.RunID == st.runID {
			return nil
		}
		st.runID, st.next = event.RunID, 0
		return s.write(conn, event)

	case domain.StreamEventMessage:
		if event.Message == nil {
			return nil
		}
		if event.RunID != st.runID || event.Message.Index > st.next {
			return s.catchUp(conn, st)
		}
		if event.Message.Index < st.next {
			return nil
		}
		st.next++
		return s.write(conn, event)

	default:
		return s.write(conn, event)
	}
}

// catchUp sends everything the log holds past the connection's cursor.
func (s *Server) catchUp(conn *hub.Connection, st *stream) error {
	page := s.source.GetMessagesSince(st.runID, st.next)
	if page.RunID == "" {
		return nil
	}
	now := time.Now().UnixMilli()
	if page.RunID != st.runID {
		if st.runID != "" {
			if err := s.write(conn, domain.StreamEvent{Type: domain.StreamEventReset, RunID: page.RunID, Ts: now}); err != nil {
				return err
			}
		}
		st.runID = page.RunID
	}
	for i := range page.Messages {
		msg := page.Messages[i]
		if err := s.write(conn, domain.StreamEvent{Type: domain.StreamEventMessage, RunID: page.RunID, Ts: now, Message: &msg}); err != nil {
			return err
		}
	}
	st.next = page.NextCursor
	return nil
}

func (s *Server) write(conn *hub.Connection, event domain.StreamEvent) error {
	conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	return conn.WriteJSON(event)
}
