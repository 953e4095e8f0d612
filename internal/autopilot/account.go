package autopilot

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"sm_copilot/internal/game"
	"sm_copilot/internal/models"
)

// GameAPI - операции игрового клиента, нужные автопилоту.
// Повтор мутирующего вызова задваивает эффект, поэтому все мутации
// выполняются только под блокировкой LockManager.
type GameAPI interface {
	GetVessels(ctx context.Context) ([]models.Vessel, error)
	GetBunker(ctx context.Context) (models.Bunker, error)
	GetPrices(ctx context.Context) (models.Prices, error)
	GetPortDemand(ctx context.Context, portID int) (models.PortDemand, error)
	GetCampaigns(ctx context.Context) ([]models.Campaign, error)
	GetCases(ctx context.Context) ([]models.HostageCase, error)
	GetCase(ctx context.Context, caseID int) (models.HostageCase, error)
	GetCoop(ctx context.Context) (models.CoopStatus, error)
	GetHeader(ctx context.Context) (models.Header, error)
	GetEvents(ctx context.Context) ([]models.GameEvent, error)
	GetInbox(ctx context.Context) ([]models.InboxMessage, error)

	BuyFuel(ctx context.Context, tons float64) (models.Bunker, error)
	BuyCO2(ctx context.Context, tons float64) (models.Bunker, error)
	Depart(ctx context.Context, vesselID, portID, cargo int) (game.DepartResult, error)
	Repair(ctx context.Context, vesselIDs []int) error
	Drydock(ctx context.Context, vesselIDs []int) error
	ActivateCampaign(ctx context.Context, campaignType string) (models.Campaign, error)
	SettleCase(ctx context.Context, caseID int, amount float64) (models.HostageCase, error)
	Contribute(ctx context.Context, amount float64) error
}

// AuditSink - приёмник журнала действий
type AuditSink interface {
	Append(ctx context.Context, entry models.AuditEntry) error
}

// Broadcaster - рассылка типизированных дельт состояния подписчикам аккаунта
type Broadcaster interface {
	Publish(accountID int, eventType string, payload any)
}

// AccountState - живое состояние одного управляемого аккаунта.
// Снапшоты мутируются только путём Scheduler/Pilots/refresh; остальные
// потребители их только читают.
type AccountState struct {
	ID      int
	Account models.Account

	api GameAPI

	// Общие кэши чтений: инбокс/шапка/лента - короткий TTL,
	// пиратские дела - бимодальный кэш с заморозкой терминальных записей
	Inbox  *game.Cache[[]models.InboxMessage]
	Header *game.Cache[models.Header]
	Events *game.Cache[[]models.GameEvent]
	Cases  *game.Cache[models.HostageCase]

	mu       sync.RWMutex
	settings *models.Settings // nil - настроек ещё нет, тик пропускается
	vessels  []models.Vessel
	bunker   models.Bunker
	prices   models.Prices
	counts   models.FleetCounts
	campaign []models.Campaign
	coop     models.CoopStatus

	haveVessels  bool
	haveBunker   bool
	havePrices   bool
	haveCampaign bool
	haveCoop     bool
}

// CaseKey строит ключ бимодального кэша для пиратского дела
func CaseKey(caseID int) string {
	return "case:" + strconv.Itoa(caseID)
}

func newAccountState(acc models.Account, api GameAPI, logger *slog.Logger) *AccountState {
	st := &AccountState{
		ID:      acc.ID,
		Account: acc,
		api:     api,
	}

	st.Inbox = game.NewCache(func(ctx context.Context, _ string) ([]models.InboxMessage, error) {
		return api.GetInbox(ctx)
	}, game.CacheOptions[[]models.InboxMessage]{TTL: game.ShortTTL}, logger)

	st.Header = game.NewCache(func(ctx context.Context, _ string) (models.Header, error) {
		return api.GetHeader(ctx)
	}, game.CacheOptions[models.Header]{TTL: game.ShortTTL}, logger)

	st.Events = game.NewCache(func(ctx context.Context, _ string) ([]models.GameEvent, error) {
		return api.GetEvents(ctx)
	}, game.CacheOptions[[]models.GameEvent]{TTL: game.ShortTTL}, logger)

	st.Cases = game.NewCache(func(ctx context.Context, key string) (models.HostageCase, error) {
		id, err := strconv.Atoi(strings.TrimPrefix(key, "case:"))
		if err != nil {
			return models.HostageCase{}, fmt.Errorf("bad case key %q: %w", key, err)
		}
		return api.GetCase(ctx, id)
	}, game.CacheOptions[models.HostageCase]{
		TTL:      game.ActiveTTL,
		Terminal: models.HostageCase.Terminal,
	}, logger)

	return st
}

// Settings возвращает снапшот настроек; false - настроек ещё нет
func (st *AccountState) Settings() (models.Settings, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()

	if st.settings == nil {
		return models.Settings{}, false
	}
	return *st.settings, true
}

// SetSettings обновляет настройки (вызывается из API при изменении)
func (st *AccountState) SetSettings(s models.Settings) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.settings = &s
}

// Vessels возвращает снапшот флота
func (st *AccountState) Vessels() ([]models.Vessel, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.vessels, st.haveVessels
}

func (st *AccountState) SetVessels(v []models.Vessel) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.vessels = v
	st.haveVessels = true
	st.counts = countFleet(v, st.counts.Unread)
}

// Counts возвращает счётчики бейджей
func (st *AccountState) Counts() models.FleetCounts {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.counts
}

// SetUnread обновляет счётчик непрочитанных сообщений в бейджах
func (st *AccountState) SetUnread(n int) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.counts.Unread = n
}

func (st *AccountState) Bunker() (models.Bunker, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.bunker, st.haveBunker
}

func (st *AccountState) SetBunker(b models.Bunker) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.bunker = b
	st.haveBunker = true
}

func (st *AccountState) Prices() (models.Prices, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.prices, st.havePrices
}

func (st *AccountState) SetPrices(p models.Prices) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.prices = p
	st.havePrices = true
}

func (st *AccountState) Campaigns() ([]models.Campaign, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.campaign, st.haveCampaign
}

func (st *AccountState) SetCampaigns(c []models.Campaign) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.campaign = c
	st.haveCampaign = true
}

func (st *AccountState) Coop() (models.CoopStatus, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.coop, st.haveCoop
}

func (st *AccountState) SetCoop(c models.CoopStatus) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.coop = c
	st.haveCoop = true
}

// countFleet пересчитывает бейджи по снапшоту флота
func countFleet(vessels []models.Vessel, unread int) models.FleetCounts {
	counts := models.FleetCounts{Total: len(vessels), Unread: unread}
	for _, v := range vessels {
		switch v.Status {
		case models.VesselStatusIdle:
			counts.Idle++
		case models.VesselStatusEnroute:
			counts.Enroute++
		case models.VesselStatusHijacked:
			counts.Hijacked++
		}
		if v.Wear >= 50 {
			counts.NeedRepair++
		}
		if v.HoursToDry <= 48 {
			counts.NeedDrydock++
		}
	}
	return counts
}

// APIFactory создает игровой клиент для аккаунта
type APIFactory func(acc models.Account) (GameAPI, error)

// Store хранит состояние всех известных аккаунтов.
// Явный объект вместо глобальной map: передаётся в Scheduler и API по ссылке.
type Store struct {
	newAPI APIFactory
	logger *slog.Logger

	mu       sync.RWMutex
	accounts map[int]*AccountState
}

// NewStore создает пустой store
func NewStore(newAPI APIFactory, logger *slog.Logger) *Store {
	return &Store{
		newAPI:   newAPI,
		logger:   logger,
		accounts: make(map[int]*AccountState),
	}
}

// GetOrCreate возвращает состояние аккаунта, создавая его при первом обращении.
// Состояние живёт до конца процесса.
func (s *Store) GetOrCreate(acc models.Account) (*AccountState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if st, ok := s.accounts[acc.ID]; ok {
		return st, nil
	}

	api, err := s.newAPI(acc)
	if err != nil {
		return nil, fmt.Errorf("create game client for %q: %w", acc.Name, err)
	}

	st := newAccountState(acc, api, s.logger)
	s.accounts[acc.ID] = st

	return st, nil
}

// Get возвращает состояние аккаунта, если оно уже создано
func (s *Store) Get(accountID int) (*AccountState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.accounts[accountID]
	return st, ok
}

// List возвращает все известные аккаунты
func (s *Store) List() []*AccountState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*AccountState, 0, len(s.accounts))
	for _, st := range s.accounts {
		out = append(out, st)
	}
	return out
}
