package autopilot

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"sm_copilot/internal/broadcast"
	"sm_copilot/internal/models"
)

// ensureBunker возвращает состояние бункера, при необходимости запрашивая его
func (e *Engine) ensureBunker(ctx context.Context, st *AccountState) (models.Bunker, error) {
	if b, ok := st.Bunker(); ok {
		return b, nil
	}
	b, err := st.api.GetBunker(ctx)
	if err != nil {
		return models.Bunker{}, fmt.Errorf("bunker status: %w", err)
	}
	st.SetBunker(b)
	return b, nil
}

// runRepair чинит простаивающие суда с износом выше порога
func (e *Engine) runRepair(ctx context.Context, st *AccountState, settings models.Settings) error {
	acquired, err := e.locks.With(st.ID, LockRepair, func() error {
		vessels, ok := st.Vessels()
		if !ok {
			var err error
			vessels, err = st.api.GetVessels(ctx)
			if err != nil {
				return fmt.Errorf("fleet: %w", err)
			}
			st.SetVessels(vessels)
		}

		var due []models.Vessel
		cost := 0.0
		for _, v := range vessels {
			if v.Status == models.VesselStatusIdle && v.Wear >= settings.RepairWear {
				due = append(due, v)
				cost += v.RepairCost
			}
		}
		if len(due) == 0 {
			return nil
		}

		bunker, err := e.ensureBunker(ctx, st)
		if err != nil {
			return err
		}
		if bunker.Cash-settings.CashReserve < cost {
			e.writeAudit(ctx, st.ID, LockRepair, "repair", models.AuditWarning,
				models.SourceAutomated,
				fmt.Sprintf("Repair of %d vessels postponed: reserve leaves no budget", len(due)),
				fmt.Sprintf("cost=%.0f cash=%.0f reserve=%.0f",
					cost, bunker.Cash, settings.CashReserve))
			return nil
		}

		ids := make([]int, len(due))
		for i, v := range due {
			ids[i] = v.ID
		}

		if e.dryRun {
			e.logger.Info("DRY RUN: skip repair", slog.Any("vessels", ids))
			return nil
		}

		if err := st.api.Repair(ctx, ids); err != nil {
			return fmt.Errorf("repair %d vessels: %w", len(ids), err)
		}

		e.writeAudit(ctx, st.ID, LockRepair, "repair", models.AuditSuccess,
			models.SourceAutomated,
			fmt.Sprintf("Repaired %d vessels for %.0f", len(ids), cost), "")
		return nil
	})

	if !acquired {
		e.logger.Debug("Repair: lock busy", slog.Int("account_id", st.ID))
		return nil
	}
	return err
}

// runDrydock отправляет в сухой док суда с подходящим сроком докования
func (e *Engine) runDrydock(ctx context.Context, st *AccountState, settings models.Settings) error {
	acquired, err := e.locks.With(st.ID, LockDrydock, func() error {
		vessels, ok := st.Vessels()
		if !ok {
			var err error
			vessels, err = st.api.GetVessels(ctx)
			if err != nil {
				return fmt.Errorf("fleet: %w", err)
			}
			st.SetVessels(vessels)
		}

		var due []models.Vessel
		cost := 0.0
		for _, v := range vessels {
			if v.Status == models.VesselStatusIdle && v.HoursToDry <= settings.DrydockHours {
				due = append(due, v)
				cost += v.DrydockCost
			}
		}
		if len(due) == 0 {
			return nil
		}

		bunker, err := e.ensureBunker(ctx, st)
		if err != nil {
			return err
		}
		if bunker.Cash-settings.CashReserve < cost {
			e.writeAudit(ctx, st.ID, LockDrydock, "drydock", models.AuditWarning,
				models.SourceAutomated,
				fmt.Sprintf("Drydock of %d vessels postponed: reserve leaves no budget", len(due)),
				fmt.Sprintf("cost=%.0f cash=%.0f reserve=%.0f",
					cost, bunker.Cash, settings.CashReserve))
			return nil
		}

		ids := make([]int, len(due))
		for i, v := range due {
			ids[i] = v.ID
		}

		if e.dryRun {
			e.logger.Info("DRY RUN: skip drydock", slog.Any("vessels", ids))
			return nil
		}

		if err := st.api.Drydock(ctx, ids); err != nil {
			return fmt.Errorf("drydock %d vessels: %w", len(ids), err)
		}

		e.writeAudit(ctx, st.ID, LockDrydock, "drydock", models.AuditSuccess,
			models.SourceAutomated,
			fmt.Sprintf("Sent %d vessels to drydock for %.0f", len(ids), cost), "")
		return nil
	})

	if !acquired {
		e.logger.Debug("Drydock: lock busy", slog.Int("account_id", st.ID))
		return nil
	}
	return err
}

// runCoop вносит взнос в кооператив, когда тот его ждёт
func (e *Engine) runCoop(ctx context.Context, st *AccountState, settings models.Settings) error {
	coop, err := st.api.GetCoop(ctx)
	if err != nil {
		return fmt.Errorf("coop status: %w", err)
	}
	st.SetCoop(coop)
	e.bus.Publish(st.ID, broadcast.EventCoop, coop)

	if !coop.Member || coop.ContributionDue <= 0 {
		return nil
	}

	amount := coop.ContributionDue
	if amount > settings.CoopAmount {
		amount = settings.CoopAmount
	}

	acquired, err := e.locks.With(st.ID, LockBulkBuy, func() error {
		bunker, err := e.ensureBunker(ctx, st)
		if err != nil {
			return err
		}
		if bunker.Cash-settings.CashReserve < amount {
			e.writeAudit(ctx, st.ID, LockBulkBuy, "coop contribute", models.AuditWarning,
				models.SourceAutomated,
				"Coop contribution postponed: reserve leaves no budget",
				fmt.Sprintf("due=%.0f cash=%.0f reserve=%.0f",
					amount, bunker.Cash, settings.CashReserve))
			return nil
		}

		if e.dryRun {
			e.logger.Info("DRY RUN: skip coop contribution", slog.Float64("amount", amount))
			return nil
		}

		if err := st.api.Contribute(ctx, amount); err != nil {
			return fmt.Errorf("contribute %.0f: %w", amount, err)
		}

		e.writeAudit(ctx, st.ID, LockBulkBuy, "coop contribute", models.AuditSuccess,
			models.SourceAutomated,
			fmt.Sprintf("Contributed %.0f to %s", amount, coop.Name), "")
		return nil
	})

	if !acquired {
		e.logger.Debug("Coop: lock busy", slog.Int("account_id", st.ID))
		return nil
	}
	return err
}

// runHostage выкупает захваченные суда, если выкуп укладывается в лимит.
// Закрытые дела заморожены в кэше и повторно не опрашиваются.
func (e *Engine) runHostage(ctx context.Context, st *AccountState, settings models.Settings) error {
	cases, err := st.api.GetCases(ctx)
	if err != nil {
		return fmt.Errorf("hostage cases: %w", err)
	}

	for _, c := range cases {
		st.Cases.Put(CaseKey(c.ID), c)
	}

	for _, listed := range cases {
		if listed.Terminal() {
			continue
		}

		c, err := st.Cases.Get(ctx, CaseKey(listed.ID))
		if err != nil {
			return fmt.Errorf("case %d: %w", listed.ID, err)
		}
		if c.Terminal() {
			continue
		}

		if c.Ransom > settings.MaxRansom {
			e.writeAudit(ctx, st.ID, LockBulkBuy, "hostage settle", models.AuditWarning,
				models.SourceAutomated,
				fmt.Sprintf("Ransom for case %d above limit, vessel stays hijacked", c.ID),
				fmt.Sprintf("ransom=%.0f limit=%.0f", c.Ransom, settings.MaxRansom))
			continue
		}

		if err := e.settleCase(ctx, st, settings, c); err != nil {
			return err
		}
	}

	return nil
}

func (e *Engine) settleCase(ctx context.Context, st *AccountState, settings models.Settings, c models.HostageCase) error {
	acquired, err := e.locks.With(st.ID, LockBulkBuy, func() error {
		bunker, err := e.ensureBunker(ctx, st)
		if err != nil {
			return err
		}
		if bunker.Cash-settings.CashReserve < c.Ransom {
			e.writeAudit(ctx, st.ID, LockBulkBuy, "hostage settle", models.AuditWarning,
				models.SourceAutomated,
				fmt.Sprintf("Ransom for case %d postponed: reserve leaves no budget", c.ID),
				fmt.Sprintf("ransom=%.0f cash=%.0f reserve=%.0f",
					c.Ransom, bunker.Cash, settings.CashReserve))
			return nil
		}

		if e.dryRun {
			e.logger.Info("DRY RUN: skip ransom", slog.Int("case_id", c.ID))
			return nil
		}

		settled, err := st.api.SettleCase(ctx, c.ID, c.Ransom)
		if err != nil {
			return fmt.Errorf("settle case %d: %w", c.ID, err)
		}
		st.Cases.Put(CaseKey(settled.ID), settled)

		e.writeAudit(ctx, st.ID, LockBulkBuy, "hostage settle", models.AuditSuccess,
			models.SourceAutomated,
			fmt.Sprintf("Paid %.0f ransom for case %d", c.Ransom, c.ID), "")
		return nil
	})

	if !acquired {
		e.logger.Debug("Hostage: lock busy", slog.Int("account_id", st.ID))
		return nil
	}
	return err
}

// runMarketing продлевает истёкшие маркетинговые кампании
func (e *Engine) runMarketing(ctx context.Context, st *AccountState, settings models.Settings) error {
	campaigns, err := st.api.GetCampaigns(ctx)
	if err != nil {
		return fmt.Errorf("campaigns: %w", err)
	}
	st.SetCampaigns(campaigns)

	now := time.Now()
	for _, c := range campaigns {
		if c.Active && c.ExpiresAt.After(now) {
			continue
		}

		acquired, err := e.locks.With(st.ID, LockBulkBuy, func() error {
			if e.dryRun {
				e.logger.Info("DRY RUN: skip campaign", slog.String("type", c.Type))
				return nil
			}

			renewed, err := st.api.ActivateCampaign(ctx, c.Type)
			if err != nil {
				return fmt.Errorf("activate campaign %s: %w", c.Type, err)
			}

			e.writeAudit(ctx, st.ID, LockBulkBuy, "marketing", models.AuditSuccess,
				models.SourceAutomated,
				fmt.Sprintf("Campaign %s renewed until %s",
					renewed.Type, renewed.ExpiresAt.Format(time.RFC3339)), "")
			return nil
		})
		if !acquired {
			e.logger.Debug("Marketing: lock busy", slog.Int("account_id", st.ID))
			return nil
		}
		if err != nil {
			return err
		}
	}

	// после продления раздаём свежий список зрителям
	if campaigns, err := st.api.GetCampaigns(ctx); err == nil {
		st.SetCampaigns(campaigns)
		e.bus.Publish(st.ID, broadcast.EventCampaigns, campaigns)
	}

	return nil
}
