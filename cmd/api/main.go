package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/agent-crew/backend/internal/app"
	"github.com/zhouzirui/agent-crew/backend/internal/config"
	"github.com/zhouzirui/agent-crew/backend/internal/handler"
	"github.com/zhouzirui/agent-crew/backend/internal/logging"
	"github.com/zhouzirui/agent-crew/backend/internal/model/agent"
	"github.com/zhouzirui/agent-crew/backend/internal/service/chat"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		bootLogger := logging.New(logging.Options{})
		bootLogger.Fatal().Err(err).Msg("failed to load configuration")
	}

	logger := logging.New(logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if envErr != nil {
		logger.Warn().Err(envErr).Msg("failed to load .env file, continuing with system environment variables only")
	}

	agents, err := app.LoadAgents(cfg.Crew)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load agents")
	}
	agentStore := agent.NewMemoryStore(agents)
	chatService := chat.NewService()

	// The driver stays nil when the chat model cannot be built; the API then
	// serves agents only.
	driver, err := app.NewDriver(ctx, cfg, agents, app.Deps{Store: chatService}, logger)
	if err != nil {
		logger.Warn().Err(err).Str("provider", string(cfg.AI.Provider)).Msg("continuing without crew runs - 请检查模型相关环境变量")
	} else {
		logger.Info().Str("provider", string(cfg.AI.Provider)).Int("agents", len(agents)).Msg("crew initialized")
	}

	router := handler.NewRouter(agentStore, chatService, driver, logger)

	startServer(ctx, cfg.Server, router, logger)
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler, logger zerolog.Logger) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	logger.Info().Str("addr", addr).Msg("agent crew backend listening")
	if err := runServer(ctx, srv); err != nil {
		logger.Fatal().Err(err).Msg("server error")
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
