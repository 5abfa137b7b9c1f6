package chat

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/productivity-assistant/backend/internal/middleware"
	"github.com/zhouzirui/productivity-assistant/backend/internal/service/ai"
	"github.com/zhouzirui/productivity-assistant/backend/pkg/utils"
)

// Handler serves the synchronous assistant endpoints.
type Handler struct {
	responder ai.Responder
	logger    zerolog.Logger
}

// New 创建助手处理器
func New(responder ai.Responder, logger zerolog.Logger) *Handler {
	return &Handler{
		responder: responder,
		logger:    logger.With().Str("component", "chat").Logger(),
	}
}

// requestLogger tags entries with the user authenticated upstream, if any.
func (h *Handler) requestLogger(r *http.Request) zerolog.Logger {
	if user, ok := middleware.UserFromContext(r.Context()); ok {
		return h.logger.With().Str("user", user).Logger()
	}
	return h.logger
}

// RegisterRoutes 注册助手相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/ai/chat", h.handleChat)
	r.Post("/ai/summarize", h.handleSummarize)
	r.Post("/ai/generate-tasks", h.handleGenerateTasks)
}

// handleChat answers one message given the client's own history.
func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Message string   `json:"message"`
		History []string `json:"history"`
	}

	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	reply, err := h.responder.Reply(r.Context(), payload.Message, payload.History)
	if err != nil {
		logger := h.requestLogger(r)
		logger.Error().Err(err).Msg("chat failed")
		utils.RespondError(w, http.StatusInternalServerError, "assistant unavailable")
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]string{"response": reply})
}

func (h *Handler) handleSummarize(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Text string `json:"text"`
	}

	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	summary, err := h.responder.Summarize(r.Context(), payload.Text)
	if err != nil {
		logger := h.requestLogger(r)
		logger.Error().Err(err).Msg("summarize failed")
		utils.RespondError(w, http.StatusInternalServerError, "assistant unavailable")
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]string{"summary": summary})
}

// handleGenerateTasks extracts tasks. Nothing is persisted here, so created is always false.
func (h *Handler) handleGenerateTasks(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Text       string `json:"text"`
		AutoCreate string `json:"autoCreate"`
	}

	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if payload.AutoCreate != "" {
		if _, err := strconv.ParseBool(payload.AutoCreate); err != nil {
			utils.RespondError(w, http.StatusBadRequest, "autoCreate must be true or false")
			return
		}
	}

	tasks, err := h.responder.GenerateTasks(r.Context(), payload.Text)
	if err != nil {
		logger := h.requestLogger(r)
		logger.Error().Err(err).Msg("generate tasks failed")
		utils.RespondError(w, http.StatusInternalServerError, "assistant unavailable")
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]any{"tasks": tasks, "created": false})
}
