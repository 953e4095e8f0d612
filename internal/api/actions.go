package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"sm_copilot/internal/autopilot"
)

// HandleManualDepart отправляет одно судно по запросу оператора
func (h *Handler) HandleManualDepart(w http.ResponseWriter, r *http.Request) {
	st, ok := h.accountState(w, r)
	if !ok {
		return
	}

	var req struct {
		VesselID int `json:"vesselId"`
		PortID   int `json:"portId"`
		Cargo    int `json:"cargo"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.engine.ManualDepart(r.Context(), st, req.VesselID, req.PortID, req.Cargo)
	if err != nil {
		if errors.Is(err, autopilot.ErrBusy) {
			h.respondError(w, http.StatusConflict, "departure already in progress")
			return
		}
		h.respondError(w, http.StatusBadGateway, err.Error())
		return
	}

	h.respondSuccess(w, "vessel departed", result)
}

// HandleManualRebuy покупает топливо или квоту по запросу оператора
func (h *Handler) HandleManualRebuy(w http.ResponseWriter, r *http.Request) {
	st, ok := h.accountState(w, r)
	if !ok {
		return
	}

	var req struct {
		Resource string  `json:"resource"` // "fuel" либо "co2"
		Tons     float64 `json:"tons"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Tons <= 0 {
		h.respondError(w, http.StatusBadRequest, "resource and positive tons are required")
		return
	}

	bunker, err := h.engine.ManualRebuy(r.Context(), st, req.Resource, req.Tons)
	if err != nil {
		if errors.Is(err, autopilot.ErrBusy) {
			h.respondError(w, http.StatusConflict, "purchase already in progress")
			return
		}
		h.respondError(w, http.StatusBadGateway, err.Error())
		return
	}

	h.respondSuccess(w, "purchase complete", bunker)
}

// HandleManualRepair чинит указанные суда по запросу оператора
func (h *Handler) HandleManualRepair(w http.ResponseWriter, r *http.Request) {
	h.manualFleetAction(w, r, h.engine.ManualRepair, "repair started")
}

// HandleManualDrydock отправляет указанные суда в док по запросу оператора
func (h *Handler) HandleManualDrydock(w http.ResponseWriter, r *http.Request) {
	h.manualFleetAction(w, r, h.engine.ManualDrydock, "drydock started")
}

func (h *Handler) manualFleetAction(
	w http.ResponseWriter,
	r *http.Request,
	action func(ctx context.Context, st *autopilot.AccountState, vesselIDs []int) error,
	message string,
) {
	st, ok := h.accountState(w, r)
	if !ok {
		return
	}

	var req struct {
		VesselIDs []int `json:"vesselIds"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.VesselIDs) == 0 {
		h.respondError(w, http.StatusBadRequest, "vesselIds are required")
		return
	}

	if err := action(r.Context(), st, req.VesselIDs); err != nil {
		if errors.Is(err, autopilot.ErrBusy) {
			h.respondError(w, http.StatusConflict, "operation already in progress")
			return
		}
		h.respondError(w, http.StatusBadGateway, err.Error())
		return
	}

	h.respondSuccess(w, message, nil)
}

// HandleRefresh принудительно перечитывает состояние аккаунта
func (h *Handler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	st, ok := h.accountState(w, r)
	if !ok {
		return
	}

	// контекст запроса умирает вместе с ответом, обновлению нужен свой
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		h.engine.RefreshAll(ctx, st.ID)
	}()

	h.respondSuccess(w, "refresh started", nil)
}

// HandleGetLogs возвращает последние записи журнала действий аккаунта
func (h *Handler) HandleGetLogs(w http.ResponseWriter, r *http.Request) {
	st, ok := h.accountState(w, r)
	if !ok {
		return
	}

	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	entries, err := h.storage.GetAuditLog(st.ID, limit)
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, "failed to load logs")
		return
	}

	h.respondSuccess(w, "", entries)
}
