package api

import (
	"encoding/json"
	"net/http"

	"sm_copilot/internal/broadcast"
	"sm_copilot/internal/models"
)

// HandleGetSettings возвращает настройки автопилота аккаунта
func (h *Handler) HandleGetSettings(w http.ResponseWriter, r *http.Request) {
	st, ok := h.accountState(w, r)
	if !ok {
		return
	}

	settings, ok := st.Settings()
	if !ok {
		settings = models.DefaultSettings()
		settings.Paused = true
	}

	h.respondSuccess(w, "", settings)
}

// HandleUpdateSettings сохраняет настройки и применяет их со следующего тика
func (h *Handler) HandleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	st, ok := h.accountState(w, r)
	if !ok {
		return
	}

	var settings models.Settings
	if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if settings.MinUtilization < 0 || settings.MinUtilization > 1 {
		h.respondError(w, http.StatusBadRequest, "minUtilization must be in [0, 1]")
		return
	}
	if settings.CashReserve < 0 {
		h.respondError(w, http.StatusBadRequest, "cashReserve must be non-negative")
		return
	}

	if err := h.storage.SaveSettings(st.ID, settings); err != nil {
		h.respondError(w, http.StatusInternalServerError, "failed to save settings")
		return
	}
	st.SetSettings(settings)

	h.hub.Publish(st.ID, broadcast.EventSettings, settings)

	h.respondSuccess(w, "settings saved", settings)
}

// HandlePause ставит автопилот аккаунта на паузу либо снимает её
func (h *Handler) HandlePause(w http.ResponseWriter, r *http.Request) {
	st, ok := h.accountState(w, r)
	if !ok {
		return
	}

	var req struct {
		Paused bool `json:"paused"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	settings, ok := st.Settings()
	if !ok {
		settings = models.DefaultSettings()
	}
	settings.Paused = req.Paused

	if err := h.storage.SaveSettings(st.ID, settings); err != nil {
		h.respondError(w, http.StatusInternalServerError, "failed to save settings")
		return
	}
	st.SetSettings(settings)

	h.hub.Publish(st.ID, broadcast.EventSettings, settings)

	if req.Paused {
		h.respondSuccess(w, "autopilot paused", nil)
	} else {
		h.respondSuccess(w, "autopilot resumed", nil)
	}
}
