package autopilot

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"sm_copilot/internal/broadcast"
)

// refreshGuard не даёт запустить два полных обновления одного аккаунта
// одновременно: второй вызов просто уходит ни с чем
type refreshGuard struct {
	mu     sync.Mutex
	active map[int]bool
}

func newRefreshGuard() *refreshGuard {
	return &refreshGuard{active: make(map[int]bool)}
}

func (g *refreshGuard) tryBegin(accountID int) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.active[accountID] {
		return false
	}
	g.active[accountID] = true
	return true
}

func (g *refreshGuard) end(accountID int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.active, accountID)
}

// Snapshot собирает полный снапшот аккаунта для нового подписчика.
// Уже известные снапшотам данные отдаются как есть, недостающие
// запрашиваются у игры один раз и запоминаются.
func (e *Engine) Snapshot(ctx context.Context, accountID int) ([]broadcast.Event, error) {
	st, ok := e.store.Get(accountID)
	if !ok {
		return nil, fmt.Errorf("unknown account %d", accountID)
	}

	events := make([]broadcast.Event, 0, 10)

	if settings, ok := st.Settings(); ok {
		events = append(events, broadcast.Event{Type: broadcast.EventSettings, Payload: settings})
	}

	vessels, ok := st.Vessels()
	if !ok {
		var err error
		vessels, err = st.api.GetVessels(ctx)
		if err != nil {
			return nil, fmt.Errorf("fleet: %w", err)
		}
		st.SetVessels(vessels)
	}
	events = append(events,
		broadcast.Event{Type: broadcast.EventFleet, Payload: vessels},
		broadcast.Event{Type: broadcast.EventBadges, Payload: st.Counts()})

	bunker, err := e.ensureBunker(ctx, st)
	if err != nil {
		return nil, err
	}
	events = append(events, broadcast.Event{Type: broadcast.EventBunker, Payload: bunker})

	prices, ok := st.Prices()
	if !ok {
		prices, err = st.api.GetPrices(ctx)
		if err != nil {
			return nil, fmt.Errorf("market prices: %w", err)
		}
		st.SetPrices(prices)
	}
	events = append(events, broadcast.Event{Type: broadcast.EventPrices, Payload: prices})

	campaigns, ok := st.Campaigns()
	if !ok {
		campaigns, err = st.api.GetCampaigns(ctx)
		if err != nil {
			return nil, fmt.Errorf("campaigns: %w", err)
		}
		st.SetCampaigns(campaigns)
	}
	events = append(events, broadcast.Event{Type: broadcast.EventCampaigns, Payload: campaigns})

	coop, ok := st.Coop()
	if !ok {
		coop, err = st.api.GetCoop(ctx)
		if err != nil {
			return nil, fmt.Errorf("coop status: %w", err)
		}
		st.SetCoop(coop)
	}
	events = append(events, broadcast.Event{Type: broadcast.EventCoop, Payload: coop})

	// шапка и лента идут через общие кэши: параллельные подписки
	// складываются в один запрос
	header, err := st.Header.Get(ctx, "header")
	if err != nil {
		return nil, fmt.Errorf("header: %w", err)
	}
	events = append(events, broadcast.Event{Type: broadcast.EventHeader, Payload: header})

	feed, err := st.Events.Get(ctx, "events")
	if err != nil {
		return nil, fmt.Errorf("event feed: %w", err)
	}
	events = append(events, broadcast.Event{Type: broadcast.EventFeed, Payload: feed})

	return events, nil
}

// RefreshAll принудительно перечитывает состояние аккаунта из игры и
// рассылает его подписчикам. Повторный вызов во время работающего
// обновления ничего не делает.
func (e *Engine) RefreshAll(ctx context.Context, accountID int) {
	if !e.refreshGuard.tryBegin(accountID) {
		e.logger.Debug("Refresh already running", slog.Int("account_id", accountID))
		return
	}
	defer e.refreshGuard.end(accountID)

	st, ok := e.store.Get(accountID)
	if !ok {
		return
	}

	// срезаем срок годности кэшей, чтобы снапшот собрался заново
	st.Header.Invalidate("header")
	st.Events.Invalidate("events")
	st.Inbox.Invalidate("inbox")

	// снапшоты независимы, перечитываем их параллельно
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		vessels, err := st.api.GetVessels(gctx)
		if err == nil {
			st.SetVessels(vessels)
		}
		return err
	})
	g.Go(func() error {
		bunker, err := st.api.GetBunker(gctx)
		if err == nil {
			st.SetBunker(bunker)
		}
		return err
	})
	g.Go(func() error {
		prices, err := st.api.GetPrices(gctx)
		if err == nil {
			st.SetPrices(prices)
		}
		return err
	})
	g.Go(func() error {
		campaigns, err := st.api.GetCampaigns(gctx)
		if err == nil {
			st.SetCampaigns(campaigns)
		}
		return err
	})
	g.Go(func() error {
		coop, err := st.api.GetCoop(gctx)
		if err == nil {
			st.SetCoop(coop)
		}
		return err
	})
	if err := g.Wait(); err != nil {
		e.logger.Warn("Refresh: partial state",
			slog.Int("account_id", accountID),
			slog.Any("error", err))
	}

	events, err := e.Snapshot(ctx, accountID)
	if err != nil {
		e.logger.Warn("Refresh failed",
			slog.Int("account_id", accountID),
			slog.Any("error", err))
		return
	}

	for _, ev := range events {
		e.bus.Publish(accountID, ev.Type, ev.Payload)
	}
}
