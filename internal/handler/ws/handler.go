// Package ws upgrades HTTP requests to the websocket transport of the chat channel.
package ws

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/productivity-assistant/backend/internal/handler/stream"
	"github.com/zhouzirui/productivity-assistant/backend/internal/wire"
)

const writeTimeout = 10 * time.Second

// Handler serves /ws.
type Handler struct {
	server   stream.Server
	upgrader websocket.Upgrader
	logger   zerolog.Logger
}

// New creates a websocket handler.
func New(server stream.Server, logger zerolog.Logger) *Handler {
	return &Handler{
		server: server,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			Subprotocols:    []string{"v12.stomp"},
		},
		logger: logger.With().Str("component", "ws").Logger(),
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("upgrade failed")
		return
	}

	if err := h.server.Serve(r.Context(), wire.NewWebSocketConn(conn, writeTimeout)); err != nil {
		h.logger.Debug().Err(err).Str("remote", r.RemoteAddr).Msg("websocket session ended")
	}
}
