package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"sm_copilot/internal/middleware"
)

// SetupRouter настраивает роутинг для API
func (h *Handler) SetupRouter(webDir string) *mux.Router {
	r := mux.NewRouter()

	r.Use(middleware.CORS)

	// Публичные маршруты
	r.HandleFunc("/api/auth/login", h.HandleLogin).Methods("POST", "OPTIONS")
	r.HandleFunc("/api/auth/register", h.HandleRegister).Methods("POST", "OPTIONS")
	r.HandleFunc("/health", h.HandleHealth).Methods("GET")

	// Защищенные маршруты
	api := r.PathPrefix("/api").Subrouter()
	api.Use(middleware.AuthMiddleware(h.authService))

	// Accounts
	api.HandleFunc("/accounts", h.HandleGetAccounts).Methods("GET")
	api.HandleFunc("/accounts", h.HandleAddAccount).Methods("POST")
	api.HandleFunc("/accounts/{id:[0-9]+}/disabled", h.HandleToggleDisabled).Methods("PUT")
	api.HandleFunc("/accounts/{id:[0-9]+}/session", h.HandleUpdateSession).Methods("PUT")

	// Autopilot settings
	api.HandleFunc("/accounts/{id:[0-9]+}/settings", h.HandleGetSettings).Methods("GET")
	api.HandleFunc("/accounts/{id:[0-9]+}/settings", h.HandleUpdateSettings).Methods("PUT")
	api.HandleFunc("/accounts/{id:[0-9]+}/pause", h.HandlePause).Methods("POST")

	// Manual actions
	api.HandleFunc("/accounts/{id:[0-9]+}/depart", h.HandleManualDepart).Methods("POST")
	api.HandleFunc("/accounts/{id:[0-9]+}/rebuy", h.HandleManualRebuy).Methods("POST")
	api.HandleFunc("/accounts/{id:[0-9]+}/repair", h.HandleManualRepair).Methods("POST")
	api.HandleFunc("/accounts/{id:[0-9]+}/drydock", h.HandleManualDrydock).Methods("POST")
	api.HandleFunc("/accounts/{id:[0-9]+}/refresh", h.HandleRefresh).Methods("POST")

	// Activity Logs
	api.HandleFunc("/accounts/{id:[0-9]+}/logs", h.HandleGetLogs).Methods("GET")

	// Live updates
	api.HandleFunc("/accounts/{id:[0-9]+}/ws", h.HandleWebSocket).Methods("GET")

	// Статические файлы (должны быть в конце)
	r.PathPrefix("/").Handler(http.FileServer(http.Dir(webDir)))

	return r
}

// HandleHealth возвращает готовность сервиса
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]bool{"ready": true})
}
