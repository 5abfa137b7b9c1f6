// Package stream serves the HTTP fallback transport of the chat channel: frames
// flow down an SSE response and up through one POST per frame.
package stream

import (
	"context"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-stomp/stomp/v3/frame"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/productivity-assistant/backend/internal/wire"
	"github.com/zhouzirui/productivity-assistant/backend/pkg/utils"
)

const maxFrameSize = 1 << 20

// Server runs a STOMP session over a connection. *broker.Broker implements it.
type Server interface {
	Serve(ctx context.Context, conn wire.Conn) error
}

// Handler manages HTTP stream sessions keyed by the client-chosen session id.
type Handler struct {
	server    Server
	keepalive time.Duration
	logger    zerolog.Logger

	mu    sync.Mutex
	conns map[string]*conn
}

// New creates a stream handler. keepalive of zero disables SSE comments.
func New(server Server, keepalive time.Duration, logger zerolog.Logger) *Handler {
	return &Handler{
		server:    server,
		keepalive: keepalive,
		logger:    logger.With().Str("component", "stream").Logger(),
		conns:     make(map[string]*conn),
	}
}

// RegisterRoutes mounts the events and send endpoints.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get(wire.StreamEventsPath("{sessionID}"), h.handleEvents)
	r.Post(wire.StreamSendPath("{sessionID}"), h.handleSend)
}

func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	c := newConn()
	if !h.register(sessionID, c) {
		utils.RespondError(w, http.StatusConflict, "session already streaming")
		return
	}
	defer h.unregister(sessionID)
	defer c.Close()

	utils.SetupSSEHeaders(w)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()
	served := make(chan struct{})
	go func() {
		defer close(served)
		if err := h.server.Serve(ctx, c); err != nil {
			h.logger.Debug().Err(err).Str("session", sessionID).Msg("stream session ended")
		}
	}()

	var ticks <-chan time.Time
	if h.keepalive > 0 {
		ticker := time.NewTicker(h.keepalive)
		defer ticker.Stop()
		ticks = ticker.C
	}

	h.logger.Debug().Str("session", sessionID).Msg("opening event stream")
	for {
		select {
		case data := <-c.out:
			utils.SendSSEChunk(w, flusher, wire.StreamEvent{Frame: string(data)})
		case <-ticks:
			utils.SendSSEComment(w, flusher, "keepalive")
		case <-c.done:
			<-served
			return
		case <-ctx.Done():
			c.Close()
			<-served
			h.logger.Debug().Str("session", sessionID).Msg("closing event stream")
			return
		}
	}
}

func (h *Handler) handleSend(w http.ResponseWriter, r *http.Request) {
	c, ok := h.lookup(chi.URLParam(r, "sessionID"))
	if !ok {
		utils.RespondError(w, http.StatusNotFound, "unknown session")
		return
	}

	data, err := io.ReadAll(io.LimitReader(r.Body, maxFrameSize))
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	f, err := wire.Decode(data)
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid frame")
		return
	}
	if f == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	select {
	case c.in <- f:
		w.WriteHeader(http.StatusNoContent)
	case <-c.done:
		utils.RespondError(w, http.StatusGone, "session closed")
	case <-r.Context().Done():
	}
}

func (h *Handler) register(sessionID string, c *conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.conns[sessionID]; exists {
		return false
	}
	h.conns[sessionID] = c
	return true
}

func (h *Handler) unregister(sessionID string) {
	h.mu.Lock()
	delete(h.conns, sessionID)
	h.mu.Unlock()
}

func (h *Handler) lookup(sessionID string) (*conn, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.conns[sessionID]
	return c, ok
}

// conn adapts the two HTTP halves to wire.Conn. Writes complete only once the
// events loop has taken the frame.
type conn struct {
	in   chan *frame.Frame
	out  chan []byte
	done chan struct{}
	once sync.Once
}

func newConn() *conn {
	return &conn{
		in:   make(chan *frame.Frame),
		out:  make(chan []byte),
		done: make(chan struct{}),
	}
}

func (c *conn) ReadFrame() (*frame.Frame, error) {
	select {
	case f := <-c.in:
		return f, nil
	case <-c.done:
		return nil, wire.ErrClosed
	}
}

func (c *conn) WriteFrame(f *frame.Frame) error {
	data, err := wire.Encode(f)
	if err != nil {
		return err
	}
	select {
	case c.out <- data:
		return nil
	case <-c.done:
		return wire.ErrClosed
	}
}

func (c *conn) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}
