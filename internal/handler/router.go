package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/productivity-assistant/backend/internal/broker"
	"github.com/zhouzirui/productivity-assistant/backend/internal/handler/chat"
	"github.com/zhouzirui/productivity-assistant/backend/internal/handler/stream"
	"github.com/zhouzirui/productivity-assistant/backend/internal/handler/ws"
	middlewarePkg "github.com/zhouzirui/productivity-assistant/backend/internal/middleware"
	"github.com/zhouzirui/productivity-assistant/backend/internal/service/ai"
	"github.com/zhouzirui/productivity-assistant/backend/pkg/utils"
)

// Dependencies are the services the router exposes.
type Dependencies struct {
	Broker    *broker.Broker
	Responder ai.Responder
	Auth      broker.Authenticator
	// Keepalive spaces SSE comments on idle HTTP streams.
	Keepalive time.Duration
	Logger    zerolog.Logger
}

// NewRouter wires HTTP routes to core services.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// Persistent chat channel; the STOMP CONNECT frame carries the credential.
	r.Method(http.MethodGet, "/ws", ws.New(deps.Broker, deps.Logger))
	stream.New(deps.Broker, deps.Keepalive, deps.Logger).RegisterRoutes(r)

	chatHandler := chat.New(deps.Responder, deps.Logger)
	r.Route("/api", func(api chi.Router) {
		api.Use(middlewarePkg.BearerAuth(deps.Auth))
		chatHandler.RegisterRoutes(api)
	})

	return r
}
