package autopilot

import (
	"context"
	"errors"
	"fmt"

	"sm_copilot/internal/broadcast"
	"sm_copilot/internal/game"
	"sm_copilot/internal/models"
)

// ErrBusy - операция этой категории уже выполняется для аккаунта
var ErrBusy = errors.New("operation already in progress")

// ManualDepart отправляет одно судно по запросу оператора.
// Идёт через ту же блокировку depart, что и автопилот: если проход
// отправки уже идёт, оператор получает ErrBusy вместо двойного рейса.
func (e *Engine) ManualDepart(ctx context.Context, st *AccountState, vesselID, portID, cargo int) (game.DepartResult, error) {
	var result game.DepartResult

	acquired, err := e.locks.With(st.ID, LockDepart, func() error {
		res, err := st.api.Depart(ctx, vesselID, portID, cargo)
		if err != nil {
			e.writeAudit(ctx, st.ID, LockDepart, "depart", models.AuditError,
				models.SourceManual,
				fmt.Sprintf("Manual depart of vessel %d failed", vesselID), err.Error())
			return err
		}
		result = res

		e.writeAudit(ctx, st.ID, LockDepart, "depart", models.AuditSuccess,
			models.SourceManual,
			fmt.Sprintf("Vessel %d departed manually", vesselID),
			fmt.Sprintf("net=%.0f", res.Net()))
		return nil
	})
	if !acquired {
		return game.DepartResult{}, ErrBusy
	}

	return result, err
}

// ManualRebuy покупает топливо или квоту по запросу оператора
func (e *Engine) ManualRebuy(ctx context.Context, st *AccountState, resource string, tons float64) (models.Bunker, error) {
	var spec resourceSpec
	switch resource {
	case "fuel":
		spec = rebuyFuelSpec
	case "co2":
		spec = rebuyCO2Spec
	default:
		return models.Bunker{}, fmt.Errorf("unknown resource %q", resource)
	}

	var result models.Bunker

	acquired, err := e.locks.With(st.ID, spec.lock, func() error {
		updated, err := spec.buy(st.api, ctx, tons)
		if err != nil {
			e.writeAudit(ctx, st.ID, spec.lock, "rebuy "+spec.name, models.AuditError,
				models.SourceManual,
				fmt.Sprintf("Manual buy of %.0ft %s failed", tons, spec.name), err.Error())
			return err
		}
		result = updated
		st.SetBunker(updated)

		e.writeAudit(ctx, st.ID, spec.lock, "rebuy "+spec.name, models.AuditSuccess,
			models.SourceManual,
			fmt.Sprintf("Bought %.0ft %s manually", tons, spec.name), "")
		e.bus.Publish(st.ID, broadcast.EventBunker, updated)
		return nil
	})
	if !acquired {
		return models.Bunker{}, ErrBusy
	}

	return result, err
}

// ManualRepair чинит указанные суда по запросу оператора
func (e *Engine) ManualRepair(ctx context.Context, st *AccountState, vesselIDs []int) error {
	acquired, err := e.locks.With(st.ID, LockRepair, func() error {
		if err := st.api.Repair(ctx, vesselIDs); err != nil {
			e.writeAudit(ctx, st.ID, LockRepair, "repair", models.AuditError,
				models.SourceManual, "Manual repair failed", err.Error())
			return err
		}

		e.writeAudit(ctx, st.ID, LockRepair, "repair", models.AuditSuccess,
			models.SourceManual,
			fmt.Sprintf("Repaired %d vessels manually", len(vesselIDs)), "")
		return nil
	})
	if !acquired {
		return ErrBusy
	}
	return err
}

// ManualDrydock отправляет указанные суда в сухой док по запросу оператора
func (e *Engine) ManualDrydock(ctx context.Context, st *AccountState, vesselIDs []int) error {
	acquired, err := e.locks.With(st.ID, LockDrydock, func() error {
		if err := st.api.Drydock(ctx, vesselIDs); err != nil {
			e.writeAudit(ctx, st.ID, LockDrydock, "drydock", models.AuditError,
				models.SourceManual, "Manual drydock failed", err.Error())
			return err
		}

		e.writeAudit(ctx, st.ID, LockDrydock, "drydock", models.AuditSuccess,
			models.SourceManual,
			fmt.Sprintf("Sent %d vessels to drydock manually", len(vesselIDs)), "")
		return nil
	})
	if !acquired {
		return ErrBusy
	}
	return err
}
