package api

import (
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
)

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token    string `json:"token"`
	Username string `json:"username"`
}

// HandleRegister создает оператора
func (h *Handler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Username == "" || len(req.Password) < 8 {
		h.respondError(w, http.StatusBadRequest, "username required, password min 8 chars")
		return
	}

	hash, err := h.authService.HashPassword(req.Password)
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, "failed to hash password")
		return
	}

	if err := h.storage.CreateUser(req.Username, hash); err != nil {
		h.respondError(w, http.StatusConflict, "user already exists")
		return
	}

	h.respondSuccess(w, "registered", nil)
}

// HandleLogin проверяет пароль и выдает JWT токен
func (h *Handler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	user, err := h.storage.GetUserByUsername(req.Username)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			h.respondError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		h.respondError(w, http.StatusInternalServerError, "lookup failed")
		return
	}

	if err := h.authService.VerifyPassword(user.PasswordHash, req.Password); err != nil {
		h.respondError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	token, err := h.authService.GenerateToken(user.ID, user.Username)
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, "failed to issue token")
		return
	}

	h.logger.Info("✅ Operator logged in", slog.String("username", user.Username))

	h.respondJSON(w, http.StatusOK, loginResponse{Token: token, Username: user.Username})
}
