package broadcast

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// Типы событий, уходящих подписчикам
const (
	EventPrices    = "prices"
	EventBunker    = "bunker"
	EventFleet     = "fleet"
	EventBadges    = "badges"
	EventCampaigns = "campaigns"
	EventCoop      = "coop"
	EventHeader    = "header"
	EventFeed      = "feed"
	EventAuditLog  = "log"
	EventDispatch  = "dispatchProgress"
	EventSettings  = "settings"
)

// Event - типизированная дельта состояния; без подтверждений и без повтора:
// подписчик, подключившийся позже, события не увидит и получит вместо него
// полный снапшот при подключении
type Event struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// Subscriber - один подключённый зритель
type Subscriber interface {
	Send(Event) error
}

// SnapshotFunc собирает полный снапшот состояния аккаунта для нового подписчика
type SnapshotFunc func(ctx context.Context, accountID int) ([]Event, error)

// Hub рассылает события всем текущим подписчикам аккаунта
type Hub struct {
	snapshot SnapshotFunc
	logger   *slog.Logger

	mu   sync.RWMutex
	subs map[int]map[string]Subscriber
}

// NewHub создает hub c функцией сборки снапшота
func NewHub(snapshot SnapshotFunc, logger *slog.Logger) *Hub {
	return &Hub{
		snapshot: snapshot,
		logger:   logger,
		subs:     make(map[int]map[string]Subscriber),
	}
}

// Subscribe отправляет новому подписчику полный снапшот и регистрирует его.
// Возвращает id подписки для Unsubscribe.
func (h *Hub) Subscribe(ctx context.Context, accountID int, sub Subscriber) (string, error) {
	events, err := h.snapshot(ctx, accountID)
	if err != nil {
		return "", err
	}

	for _, e := range events {
		if err := sub.Send(e); err != nil {
			return "", err
		}
	}

	id := uuid.NewString()

	h.mu.Lock()
	if h.subs[accountID] == nil {
		h.subs[accountID] = make(map[string]Subscriber)
	}
	h.subs[accountID][id] = sub
	h.mu.Unlock()

	h.logger.Info("📡 Viewer subscribed",
		slog.Int("account_id", accountID),
		slog.String("subscription", id))

	return id, nil
}

// Unsubscribe убирает подписчика; повторный вызов безопасен
func (h *Hub) Unsubscribe(accountID int, id string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if subs, ok := h.subs[accountID]; ok {
		delete(subs, id)
		if len(subs) == 0 {
			delete(h.subs, accountID)
		}
	}
}

// Publish рассылает дельту всем текущим подписчикам аккаунта.
// Подписчик, которому не удалось отправить, отключается.
func (h *Hub) Publish(accountID int, eventType string, payload any) {
	h.mu.RLock()
	targets := make(map[string]Subscriber, len(h.subs[accountID]))
	for id, sub := range h.subs[accountID] {
		targets[id] = sub
	}
	h.mu.RUnlock()

	event := Event{Type: eventType, Payload: payload}
	for id, sub := range targets {
		if err := sub.Send(event); err != nil {
			h.logger.Warn("Dropping unreachable viewer",
				slog.Int("account_id", accountID),
				slog.String("subscription", id),
				slog.Any("error", err))
			h.Unsubscribe(accountID, id)
		}
	}
}

// Subscribers возвращает число подключённых зрителей аккаунта
func (h *Hub) Subscribers(accountID int) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[accountID])
}
