// Package rpc exposes the run controller over JSON-RPC for internal
// clients that prefer a socket to the HTTP API.
package rpc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"sync"

	"github.com/xiaot623/gogo/phasectl/internal/domain"
	"github.com/xiaot623/gogo/phasectl/internal/service"
)

// ServiceName is the name methods are registered under, e.g. "PhaseController.RunPrompt".
const ServiceName = "PhaseController"

// Server exposes internal RPC endpoints.
type Server struct {
	mu        sync.Mutex
	listener  net.Listener
	rpcServer *rpc.Server
	logger    *slog.Logger
	done      chan struct{}
}

// NewServer creates a new RPC server bound to the run controller.
func NewServer(svc *service.Service, logger *slog.Logger) (*Server, error) {
	rpcServer := rpc.NewServer()
	handler := &Handler{service: svc}
	if err := rpcServer.RegisterName(ServiceName, handler); err != nil {
		return nil, fmt.Errorf("register rpc handler: %w", err)
	}

	return &Server{
		rpcServer: rpcServer,
		logger:    logger,
		done:      make(chan struct{}),
	}, nil
}

// Start begins accepting RPC connections on the given address.
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until Shutdown closes it.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				close(s.done)
				return nil
			}
			s.logger.Warn("rpc accept error", "err", err)
			continue
		}

		go s.rpcServer.ServeCodec(jsonrpc.NewServerCodec(conn))
	}
}

// Shutdown stops accepting new RPC connections.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()
	if ln == nil {
		return nil
	}

	if err := ln.Close(); err != nil {
		return err
	}

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Handler implements the controller's RPC methods.
type Handler struct {
	service *service.Service
}

// MessagesArgs selects messages of the current run.
type MessagesArgs struct {
	RunID string `json:"run_id"`
	Since uint64 `json:"since"`
}

// Empty is used for methods without arguments.
type Empty struct{}

// RunPrompt starts a run.
func (h *Handler) RunPrompt(req *domain.RunPromptRequest, resp *domain.RunPromptResponse) error {
	if req == nil {
		return errors.New("run prompt request is required")
	}

	runID, err := h.service.StartRun(context.Background(), *req)
	if err != nil {
		return err
	}
	*resp = domain.RunPromptResponse{Status: domain.StatusSuccess, RunID: runID}
	return nil
}

// Control applies a continue or restart decision.
func (h *Handler) Control(req *domain.ControlRequest, resp *domain.PhaseState) error {
	if req == nil {
		return errors.New("control request is required")
	}

	state, err := h.service.SubmitControlAction(context.Background(), *req)
	if err != nil {
		return err
	}
	*resp = state
	return nil
}

// PhaseState returns the current phase state.
func (h *Handler) PhaseState(_ *Empty, resp *domain.PhaseState) error {
	*resp = h.service.GetPhaseState()
	return nil
}

// Messages returns the current run's messages from Since.
func (h *Handler) Messages(req *MessagesArgs, resp *domain.MessagePage) error {
	if req == nil {
		req = &MessagesArgs{}
	}
	*resp = h.service.GetMessagesSince(req.RunID, req.Since)
	return nil
}
