package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/xiaot623/gogo/phasectl/internal/adapter/llm"
	"github.com/xiaot623/gogo/phasectl/internal/config"
	"github.com/xiaot623/gogo/phasectl/internal/hub"
	"github.com/xiaot623/gogo/phasectl/internal/logging"
	"github.com/xiaot623/gogo/phasectl/internal/repository"
	"github.com/xiaot623/gogo/phasectl/internal/service"
	server "github.com/xiaot623/gogo/phasectl/internal/transport/http"
	"github.com/xiaot623/gogo/phasectl/internal/transport/rpc"
	"github.com/xiaot623/gogo/phasectl/internal/transport/ws"
	"github.com/xiaot623/gogo/phasectl/internal/worker"
	"github.com/xiaot623/gogo/phasectl/policy"
)

const shutdownTimeout = 10 * time.Second

func main() {
	// Load configuration
	cfg := config.Load()
	logger := logging.New(os.Stderr, cfg.LogLevel, cfg.LogFormat)

	logger.Info("starting phase controller",
		"port", cfg.HTTPPort,
		"database", cfg.DatabaseURL,
		"litellm_url", cfg.LiteLLMURL,
		"model", cfg.LLMModel,
		"turn_limit", cfg.TurnLimit,
	)

	if err := run(cfg, logger); err != nil {
		logger.Error("phase controller stopped", "err", err)
		os.Exit(1)
	}
	logger.Info("phase controller stopped")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize store
	db, err := repository.NewSQLiteStore(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	defer db.Close()

	// Initialize LLM client
	llmClient := llm.NewLLMClient(cfg.LiteLLMURL, cfg.LiteLLMAPIKey, cfg.LLMTimeout, logger)
	checkCtx, cancel := context.WithTimeout(ctx, cfg.LLMTimeout)
	models, err := llmClient.ListModels(checkCtx)
	cancel()
	if err != nil {
		logger.Warn("LLM backend not reachable, runs will fail until it is", "err", err)
	} else {
		logger.Info("LLM backend reachable", "models", len(models))
	}

	// Initialize policy engine
	policyEngine, err := policy.NewEngineFromFile(ctx, cfg.PolicyFile)
	if err != nil {
		return fmt.Errorf("failed to initialize policy engine: %w", err)
	}

	h := hub.New(logger.With("component", "hub"))
	roleplay := worker.NewRolePlay(llmClient, cfg, logger.With("component", "worker"))
	svc := service.New(db, roleplay, policyEngine, h, cfg, logger.With("component", "controller"))

	wsServer := ws.NewServer(cfg, h, svc, logger.With("component", "ws"))
	e := server.NewServer(svc, h, wsServer, logger.With("component", "http"))

	var rpcServer *rpc.Server
	if cfg.RPCPort > 0 {
		rpcServer, err = rpc.NewServer(svc, logger.With("component", "rpc"))
		if err != nil {
			return fmt.Errorf("failed to initialize rpc server: %w", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		h.Run(gctx)
		return nil
	})
	g.Go(func() error {
		addr := fmt.Sprintf(":%d", cfg.HTTPPort)
		logger.Info("HTTP API listening", "addr", addr)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	if rpcServer != nil {
		g.Go(func() error {
			addr := fmt.Sprintf(":%d", cfg.RPCPort)
			logger.Info("JSON-RPC listening", "addr", addr)
			if err := rpcServer.Start(addr); err != nil {
				return fmt.Errorf("rpc server: %w", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		var errs []error
		if err := e.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
		if rpcServer != nil {
			if err := rpcServer.Shutdown(shutdownCtx); err != nil {
				errs = append(errs, fmt.Errorf("rpc shutdown: %w", err))
			}
		}
		if err := svc.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("controller shutdown: %w", err))
		}
		return errors.Join(errs...)
	})

	return g.Wait()
}
