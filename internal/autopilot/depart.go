package autopilot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"sm_copilot/internal/broadcast"
	"sm_copilot/internal/game"
	"sm_copilot/internal/models"
)

// DispatchReport - итог одного прохода отправки, рассылается зрителям
// после каждой пачки с нарастающим итогом
type DispatchReport struct {
	Planned   int     `json:"planned"`
	Departed  int     `json:"departed"`
	Skipped   int     `json:"skipped"`
	Failed    int     `json:"failed"`
	Revenue   float64 `json:"revenue"`
	Completed bool    `json:"completed"` // false - проход ещё идёт
}

// runDepart отправляет простаивающие суда по их маршрутам.
// Весь проход держит одну блокировку depart: план строится по снапшоту
// спроса и параллельная отправка сделала бы его недействительным.
func (e *Engine) runDepart(ctx context.Context, st *AccountState, settings models.Settings) error {
	acquired, err := e.locks.With(st.ID, LockDepart, func() error {
		return e.departPass(ctx, st, settings)
	})
	if !acquired {
		e.logger.Debug("Depart: lock busy", slog.Int("account_id", st.ID))
		return nil
	}
	return err
}

func (e *Engine) departPass(ctx context.Context, st *AccountState, settings models.Settings) error {
	vessels, err := st.api.GetVessels(ctx)
	if err != nil {
		return fmt.Errorf("fleet: %w", err)
	}
	st.SetVessels(vessels)

	var idle []models.Vessel
	for _, v := range vessels {
		if v.Status == models.VesselStatusIdle && v.RoutePortID != 0 {
			idle = append(idle, v)
		}
	}
	if len(idle) == 0 {
		return nil
	}

	// спрос снимается один раз на проход, по каждому порту назначения
	demand := make(map[int]models.PortDemand)
	for _, v := range idle {
		if _, ok := demand[v.RoutePortID]; ok {
			continue
		}
		pd, err := st.api.GetPortDemand(ctx, v.RoutePortID)
		if err != nil {
			return fmt.Errorf("demand for port %d: %w", v.RoutePortID, err)
		}
		demand[v.RoutePortID] = pd
	}

	plan := PlanDispatch(idle, demand, settings.MinUtilization)
	assigned := Dispatched(plan)

	report := DispatchReport{Planned: len(plan), Skipped: len(plan) - len(assigned)}
	for _, a := range plan {
		if a.Skip {
			e.logger.Debug("Depart: vessel skipped",
				slog.Int("account_id", st.ID),
				slog.String("vessel", a.VesselName),
				slog.String("reason", a.SkipReason))
		}
	}

	for start := 0; start < len(assigned); start += e.chunkSize {
		end := start + e.chunkSize
		if end > len(assigned) {
			end = len(assigned)
		}

		e.departChunk(ctx, st, assigned[start:end], &report)

		report.Completed = end == len(assigned)
		e.bus.Publish(st.ID, broadcast.EventDispatch, report)

		// длинный проход сам жжёт топливо, снапшот начала тика уже врёт:
		// между пачками перечитываем бункер и цены и докупаемся, чтобы
		// хвост очереди не ушёл с пустым бункером
		if !report.Completed && (settings.RebuyFuel || settings.RebuyCO2) {
			if err := e.runRebuy(ctx, st, settings); err != nil {
				e.logger.Warn("⚠️ Depart: mid-run rebuy failed",
					slog.Int("account_id", st.ID),
					slog.Any("error", err))
			}
		}
	}

	if len(assigned) == 0 {
		report.Completed = true
		e.bus.Publish(st.ID, broadcast.EventDispatch, report)
	}

	if report.Departed > 0 || report.Failed > 0 {
		e.writeAudit(ctx, st.ID, LockDepart, "depart", models.AuditSuccess,
			models.SourceAutomated,
			fmt.Sprintf("Departed %d of %d vessels", report.Departed, len(assigned)),
			fmt.Sprintf("revenue=%.0f skipped=%d failed=%d",
				report.Revenue, report.Skipped, report.Failed))
	}

	return nil
}

// departChunk отправляет одну пачку судов параллельно
func (e *Engine) departChunk(ctx context.Context, st *AccountState, chunk []Assignment, report *DispatchReport) {
	var wg sync.WaitGroup
	var mu sync.Mutex

	for _, a := range chunk {
		wg.Add(1)
		go func(a Assignment) {
			defer wg.Done()

			if e.dryRun {
				e.logger.Info("DRY RUN: skip depart",
					slog.String("vessel", a.VesselName),
					slog.Int("cargo", a.Cargo))
				mu.Lock()
				report.Departed++
				mu.Unlock()
				return
			}

			res, err := st.api.Depart(ctx, a.VesselID, a.PortID, a.Cargo)
			if err != nil {
				// судно ушло между снапшотом и вызовом: не событие
				if errors.Is(err, game.ErrAlreadyDeparted) {
					e.logger.Debug("Depart: already departed",
						slog.Int("account_id", st.ID),
						slog.String("vessel", a.VesselName))
					return
				}

				mu.Lock()
				report.Failed++
				mu.Unlock()
				e.writeAudit(ctx, st.ID, LockDepart, "depart", models.AuditError,
					models.SourceAutomated,
					fmt.Sprintf("Depart %s failed", a.VesselName), err.Error())
				return
			}

			mu.Lock()
			report.Departed++
			report.Revenue += res.Net()
			mu.Unlock()

			if res.Net() < 0 {
				e.writeAudit(ctx, st.ID, LockDepart, "depart", models.AuditWarning,
					models.SourceAutomated,
					fmt.Sprintf("Voyage %s departed at a loss", a.VesselName),
					fmt.Sprintf("revenue=%.0f fees=%.0f net=%.0f",
						res.Revenue, res.Fees, res.Net()))
			}
		}(a)
	}

	wg.Wait()
}
