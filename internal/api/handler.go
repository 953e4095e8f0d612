package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"sm_copilot/internal/auth"
	"sm_copilot/internal/autopilot"
	"sm_copilot/internal/broadcast"
	"sm_copilot/internal/storage"
)

// Handler обрабатывает API запросы
type Handler struct {
	storage     *storage.Storage
	authService *auth.Service
	engine      *autopilot.Engine
	hub         *broadcast.Hub
	logger      *slog.Logger
}

func New(
	storage *storage.Storage,
	authService *auth.Service,
	engine *autopilot.Engine,
	hub *broadcast.Hub,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		storage:     storage,
		authService: authService,
		engine:      engine,
		hub:         hub,
		logger:      logger,
	}
}

// Helper функции для JSON ответов

type ErrorResponse struct {
	Error string `json:"error"`
}

type SuccessResponse struct {
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

func (h *Handler) respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

func (h *Handler) respondError(w http.ResponseWriter, statusCode int, message string) {
	h.respondJSON(w, statusCode, ErrorResponse{Error: message})
}

func (h *Handler) respondSuccess(w http.ResponseWriter, message string, data any) {
	h.respondJSON(w, http.StatusOK, SuccessResponse{
		Message: message,
		Data:    data,
	})
}

// accountState достает состояние аккаунта из path-параметра {id}
func (h *Handler) accountState(w http.ResponseWriter, r *http.Request) (*autopilot.AccountState, bool) {
	id, err := strconv.Atoi(mux.Vars(r)["id"])
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid account id")
		return nil, false
	}

	st, ok := h.engine.Store().Get(id)
	if !ok {
		h.respondError(w, http.StatusNotFound, "account not found")
		return nil, false
	}

	return st, true
}
