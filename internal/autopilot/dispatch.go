package autopilot

import (
	"sort"

	"sm_copilot/internal/models"
)

// Причины пропуска судна в плане отправки
const (
	SkipLowUtilization = "skip: low utilization"
	SkipZeroPrice      = "skip: zero unit price"
)

// Assignment - одна строка плана отправки
type Assignment struct {
	VesselID    int     `json:"vesselId"`
	VesselName  string  `json:"vesselName"`
	PortID      int     `json:"portId"`
	CargoType   string  `json:"cargoType"`
	Cargo       int     `json:"cargo"`       // сколько груза загрузить
	Utilization float64 `json:"utilization"` // cargo / capacity
	Skip        bool    `json:"skip"`
	SkipReason  string  `json:"skipReason,omitempty"`
}

type dispatchGroup struct {
	portID    int
	cargoType string
	vessels   []models.Vessel
}

// PlanDispatch строит план отправки. Чистая функция, без I/O.
//
// Суда группируются по (порт назначения, тип груза). Внутри группы суда
// обходятся по убыванию вместимости: крупное судно имеет больше шансов набрать
// высокую загрузку, пока спрос не исчерпан. Судно с загрузкой ниже
// minUtilization помечается пропущенным и спрос не расходует.
func PlanDispatch(vessels []models.Vessel, demand map[int]models.PortDemand, minUtilization float64) []Assignment {
	groups := make(map[[2]any]*dispatchGroup)
	var order [][2]any
	var excluded []Assignment

	for _, v := range vessels {
		pd, ok := demand[v.RoutePortID]
		if !ok {
			continue
		}

		// порт с нулевой ценой за единицу груза дал бы убыточный рейс
		if pd.UnitPrice <= 0 {
			excluded = append(excluded, Assignment{
				VesselID:   v.ID,
				VesselName: v.Name,
				PortID:     v.RoutePortID,
				CargoType:  v.CargoType,
				Skip:       true,
				SkipReason: SkipZeroPrice,
			})
			continue
		}

		key := [2]any{v.RoutePortID, v.CargoType}
		g, ok := groups[key]
		if !ok {
			g = &dispatchGroup{portID: v.RoutePortID, cargoType: v.CargoType}
			groups[key] = g
			order = append(order, key)
		}
		g.vessels = append(g.vessels, v)
	}

	// детерминированный обход групп
	sort.Slice(order, func(i, j int) bool {
		if order[i][0].(int) != order[j][0].(int) {
			return order[i][0].(int) < order[j][0].(int)
		}
		return order[i][1].(string) < order[j][1].(string)
	})

	var plan []Assignment
	for _, key := range order {
		g := groups[key]
		plan = append(plan, planGroup(g, demand[g.portID], minUtilization)...)
	}

	return append(plan, excluded...)
}

// planGroup раздаёт остаток спроса судам одной группы
func planGroup(g *dispatchGroup, pd models.PortDemand, minUtilization float64) []Assignment {
	remaining := 0
	for _, cat := range pd.Categories {
		if cat.CargoType == g.cargoType {
			remaining += cat.Remaining()
		}
	}

	sort.Slice(g.vessels, func(i, j int) bool {
		if g.vessels[i].Capacity != g.vessels[j].Capacity {
			return g.vessels[i].Capacity > g.vessels[j].Capacity
		}
		return g.vessels[i].ID < g.vessels[j].ID
	})

	out := make([]Assignment, 0, len(g.vessels))
	for _, v := range g.vessels {
		a := Assignment{
			VesselID:   v.ID,
			VesselName: v.Name,
			PortID:     g.portID,
			CargoType:  g.cargoType,
		}

		if v.Capacity <= 0 {
			a.Skip = true
			a.SkipReason = SkipLowUtilization
			out = append(out, a)
			continue
		}

		cargo := remaining
		if cargo > v.Capacity {
			cargo = v.Capacity
		}

		util := float64(cargo) / float64(v.Capacity)
		if util < minUtilization {
			a.Skip = true
			a.SkipReason = SkipLowUtilization
			a.Utilization = util
			out = append(out, a)
			continue
		}

		a.Cargo = cargo
		a.Utilization = util
		remaining -= cargo
		out = append(out, a)
	}

	return out
}

// Dispatched возвращает только строки плана, назначенные к отправке
func Dispatched(plan []Assignment) []Assignment {
	out := make([]Assignment, 0, len(plan))
	for _, a := range plan {
		if !a.Skip {
			out = append(out, a)
		}
	}
	return out
}
