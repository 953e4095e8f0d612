package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"sm_copilot/internal/models"
)

type addAccountRequest struct {
	Name      string `json:"name"`
	GameID    string `json:"gameId"`
	Session   string `json:"session"`
	UserAgent string `json:"userAgent"`
	Proxy     string `json:"proxy"`
}

// HandleGetAccounts возвращает все управляемые аккаунты
func (h *Handler) HandleGetAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.storage.GetAccounts()
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, "failed to load accounts")
		return
	}

	h.respondSuccess(w, "", accounts)
}

// HandleAddAccount сохраняет аккаунт и сразу берет его под управление
func (h *Handler) HandleAddAccount(w http.ResponseWriter, r *http.Request) {
	var req addAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" || req.Session == "" {
		h.respondError(w, http.StatusBadRequest, "name and session are required")
		return
	}

	acc := models.Account{
		Name:      req.Name,
		GameID:    req.GameID,
		Session:   req.Session,
		UserAgent: req.UserAgent,
		Proxy:     req.Proxy,
	}

	id, err := h.storage.AddAccount(acc)
	if err != nil {
		h.respondError(w, http.StatusConflict, "failed to add account")
		return
	}
	acc.ID = id

	st, err := h.engine.Store().GetOrCreate(acc)
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, "failed to start managing account")
		return
	}

	// новый аккаунт начинает с безопасных настроек на паузе
	settings := models.DefaultSettings()
	settings.Paused = true
	if err := h.storage.SaveSettings(id, settings); err != nil {
		h.logger.Warn("Failed to persist default settings",
			slog.Int("account_id", id),
			slog.Any("error", err))
	}
	st.SetSettings(settings)

	h.respondSuccess(w, "account added", acc)
}

// HandleToggleDisabled включает или выключает аккаунт.
// Выключенный аккаунт не поднимается под управление при старте, поэтому
// работаем по id из хранилища, а не по живому состоянию.
func (h *Handler) HandleToggleDisabled(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(mux.Vars(r)["id"])
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid account id")
		return
	}

	var req struct {
		Disabled bool `json:"disabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if _, err := h.storage.GetAccount(id); err != nil {
		h.respondError(w, http.StatusNotFound, "account not found")
		return
	}

	if err := h.storage.SetAccountDisabled(id, req.Disabled); err != nil {
		h.respondError(w, http.StatusInternalServerError, "failed to toggle account")
		return
	}

	// уже управляемый аккаунт останавливаем через паузу настроек;
	// вновь включённый возьмётся под управление после рестарта
	if st, ok := h.engine.Store().Get(id); ok {
		if settings, ok := st.Settings(); ok {
			settings.Paused = req.Disabled
			st.SetSettings(settings)
		}
	}

	h.respondSuccess(w, "account updated", nil)
}

// HandleUpdateSession обновляет сессионную cookie аккаунта
func (h *Handler) HandleUpdateSession(w http.ResponseWriter, r *http.Request) {
	st, ok := h.accountState(w, r)
	if !ok {
		return
	}

	var req struct {
		Session string `json:"session"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Session == "" {
		h.respondError(w, http.StatusBadRequest, "session is required")
		return
	}

	if err := h.storage.UpdateAccountSession(st.ID, req.Session); err != nil {
		h.respondError(w, http.StatusInternalServerError, "failed to update session")
		return
	}

	h.logger.Info("✅ Session updated", slog.Int("account_id", st.ID))
	h.respondSuccess(w, "session updated, restart to apply", nil)
}
