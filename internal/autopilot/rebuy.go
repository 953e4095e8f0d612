package autopilot

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"sm_copilot/internal/broadcast"
	"sm_copilot/internal/models"
)

// runRebuy докупает топливо и квоту CO2 до заполнения бункера.
// Каждый ресурс закупается под собственной блокировкой: ручная покупка
// топлива не мешает автопилоту докупить квоту.
func (e *Engine) runRebuy(ctx context.Context, st *AccountState, settings models.Settings) error {
	bunker, err := st.api.GetBunker(ctx)
	if err != nil {
		return fmt.Errorf("bunker status: %w", err)
	}
	st.SetBunker(bunker)

	prices, err := st.api.GetPrices(ctx)
	if err != nil {
		return fmt.Errorf("market prices: %w", err)
	}
	st.SetPrices(prices)

	if settings.RebuyFuel {
		e.rebuyResource(ctx, st, settings, rebuyFuelSpec)
	}
	if settings.RebuyCO2 {
		e.rebuyResource(ctx, st, settings, rebuyCO2Spec)
	}

	return nil
}

// resourceSpec описывает один закупаемый ресурс бункера
type resourceSpec struct {
	name     string
	lock     string
	price    func(models.Prices) float64
	maxPrice func(models.Settings) float64
	free     func(models.Bunker) float64 // свободное место
	buy      func(GameAPI, context.Context, float64) (models.Bunker, error)
}

var rebuyFuelSpec = resourceSpec{
	name:     "fuel",
	lock:     LockFuel,
	price:    models.Prices.EffectiveFuel,
	maxPrice: func(s models.Settings) float64 { return s.MaxFuelPrice },
	free:     func(b models.Bunker) float64 { return b.FuelCapacity - b.Fuel },
	buy: func(api GameAPI, ctx context.Context, tons float64) (models.Bunker, error) {
		return api.BuyFuel(ctx, tons)
	},
}

var rebuyCO2Spec = resourceSpec{
	name:     "co2",
	lock:     LockCO2,
	price:    models.Prices.EffectiveCO2,
	maxPrice: func(s models.Settings) float64 { return s.MaxCO2Price },
	free:     func(b models.Bunker) float64 { return b.CO2Capacity - b.CO2 },
	buy: func(api GameAPI, ctx context.Context, tons float64) (models.Bunker, error) {
		return api.BuyCO2(ctx, tons)
	},
}

// rebuyResource закупает один ресурс. Нехватка денег или места - штатный
// исход, не ошибка пилота.
func (e *Engine) rebuyResource(ctx context.Context, st *AccountState, settings models.Settings, spec resourceSpec) {
	acquired, err := e.locks.With(st.ID, spec.lock, func() error {
		bunker, ok := st.Bunker()
		if !ok {
			return nil
		}
		prices, ok := st.Prices()
		if !ok {
			return nil
		}

		price := spec.price(prices)
		if price <= 0 {
			return nil
		}
		if price > spec.maxPrice(settings) {
			// цена выше потолка - подождём следующего тика
			e.logger.Debug("Rebuy: price above limit",
				slog.Int("account_id", st.ID),
				slog.String("resource", spec.name),
				slog.Float64("price", price),
				slog.Float64("limit", spec.maxPrice(settings)))
			return nil
		}

		qty := RebuyQuantity(spec.free(bunker), bunker.Cash, settings.CashReserve, price)
		if qty <= 0 {
			free := spec.free(bunker)
			if free < 1 {
				// бункер полон, докупать нечего
				return nil
			}
			e.writeAudit(ctx, st.ID, spec.lock, "rebuy "+spec.name, models.AuditWarning,
				models.SourceAutomated,
				fmt.Sprintf("Rebuy %s skipped: reserve leaves no budget", spec.name),
				fmt.Sprintf("cash=%.0f reserve=%.0f price=%.2f free=%.0ft",
					bunker.Cash, settings.CashReserve, price, free))
			return nil
		}

		if e.dryRun {
			e.logger.Info("DRY RUN: skip buy",
				slog.String("resource", spec.name),
				slog.Float64("tons", qty))
			return nil
		}

		updated, err := spec.buy(st.api, ctx, qty)
		if err != nil {
			return fmt.Errorf("buy %s %.0ft: %w", spec.name, qty, err)
		}
		st.SetBunker(updated)

		e.writeAudit(ctx, st.ID, spec.lock, "rebuy "+spec.name, models.AuditSuccess,
			models.SourceAutomated,
			fmt.Sprintf("Bought %.0ft %s at %.2f", qty, spec.name, price),
			fmt.Sprintf("cash %.0f → %.0f", bunker.Cash, updated.Cash))
		e.bus.Publish(st.ID, broadcast.EventBunker, updated)

		return nil
	})

	if !acquired {
		// ресурс уже покупает кто-то другой, этот тик пропускаем
		e.logger.Debug("Rebuy: lock busy",
			slog.Int("account_id", st.ID),
			slog.String("resource", spec.name))
		return
	}
	if err != nil {
		e.writeAudit(ctx, st.ID, spec.lock, "rebuy "+spec.name, models.AuditError,
			models.SourceAutomated,
			fmt.Sprintf("Rebuy %s failed", spec.name), err.Error())
	}
}

// RebuyQuantity возвращает объём закупки: не больше свободного места
// и не больше, чем позволяет бюджет сверх резерва.
func RebuyQuantity(freeSpace, cash, reserve, price float64) float64 {
	if price <= 0 || freeSpace <= 0 {
		return 0
	}
	budget := cash - reserve
	if budget <= 0 {
		return 0
	}
	affordable := math.Floor(budget / price)
	if affordable < freeSpace {
		return affordable
	}
	return math.Floor(freeSpace)
}
