package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/productivity-assistant/backend/internal/broker"
	"github.com/zhouzirui/productivity-assistant/backend/internal/config"
	"github.com/zhouzirui/productivity-assistant/backend/internal/handler"
	"github.com/zhouzirui/productivity-assistant/backend/internal/service/ai"
	"github.com/zhouzirui/productivity-assistant/backend/internal/service/chat"
	"github.com/zhouzirui/productivity-assistant/backend/pkg/utils"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	envErr := godotenv.Load()
	logger := utils.NewLogger(os.Getenv("LOG_LEVEL"), os.Stderr)
	if envErr != nil {
		logger.Warn().Err(envErr).Msg("failed to load .env file, continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load configuration")
	}
	if len(cfg.Server.Tokens) == 0 {
		logger.Warn().Msg("SERVER_TOKENS is empty, every connection will be rejected")
	}

	// Initialize AI service
	var responder ai.Responder = ai.EchoResponder{}
	if cfg.AI.Enabled() {
		aiService, err := ai.NewService(ctx, cfg.AI, logger)
		if err != nil {
			logger.Warn().Err(err).Msg("failed to initialize AI service, using echo responder - 请检查 Ark 模型相关环境变量")
		} else {
			responder = aiService
			logger.Info().Msg("AI service initialized successfully")
		}
	} else {
		logger.Info().Msg("Ark 凭证未配置，使用 echo 响应")
	}

	auth := broker.TokenAuthenticator(cfg.Server.Tokens)
	chatBroker := broker.New(broker.Options{
		Auth:          auth,
		Conversations: chat.NewService(cfg.Server.HistoryLimit),
		Responder:     responder,
		Logger:        logger,
	})

	router := handler.NewRouter(handler.Dependencies{
		Broker:    chatBroker,
		Responder: responder,
		Auth:      auth,
		Keepalive: 15 * time.Second,
		Logger:    logger,
	})

	startServer(ctx, cfg.Server, router, logger)
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler, logger zerolog.Logger) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
		// Long-lived chat streams end with the process context.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	logger.Info().Str("addr", addr).Msg("productivity assistant backend listening")
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
