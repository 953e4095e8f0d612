package models

import "time"

// Статусы судна, как их отдаёт игровой API
const (
	VesselStatusIdle     = "idle"     // стоит в порту, можно отправлять
	VesselStatusEnroute  = "enroute"  // в пути
	VesselStatusRepair   = "repair"   // на ремонте
	VesselStatusDrydock  = "drydock"  // в сухом доке
	VesselStatusHijacked = "hijacked" // захвачено пиратами
)

// Vessel представляет судно флота
type Vessel struct {
	ID          int     `json:"id"`
	Name        string  `json:"name"`
	CargoType   string  `json:"cargoType"` // "container" или "tanker"
	Capacity    int     `json:"capacity"`  // TEU либо тонны
	Status      string  `json:"status"`
	PortID      int     `json:"portId"`      // текущий порт
	RoutePortID int     `json:"routePortId"` // порт назначения по маршруту
	Wear        float64 `json:"wear"`        // износ в процентах, 0..100
	HoursToDry  int     `json:"hoursToDrydock"`
	RepairCost  float64 `json:"repairCost"`  // стоимость текущего ремонта, $
	DrydockCost float64 `json:"drydockCost"` // стоимость докования, $
}

// CategoryDemand - спрос по одной подкатегории груза в порту
type CategoryDemand struct {
	CargoType string `json:"cargoType"` // "container" или "tanker"
	Category  string `json:"category"`  // подтип: dry, reefer, crude, ...
	Total     int    `json:"total"`
	Consumed  int    `json:"consumed"` // уже вывезено другими рейсами
}

// Remaining возвращает остаток спроса
func (d CategoryDemand) Remaining() int {
	if r := d.Total - d.Consumed; r > 0 {
		return r
	}
	return 0
}

// PortDemand - спрос порта по категориям груза
type PortDemand struct {
	PortID     int              `json:"portId"`
	PortName   string           `json:"portName"`
	Categories []CategoryDemand `json:"categories"`
	UnitPrice  float64          `json:"unitPrice"` // цена за единицу груза в этом порту
	PortFee    float64          `json:"portFee"`   // сбор порта за заход
}

// Bunker - состояние бункера аккаунта
type Bunker struct {
	Fuel         float64 `json:"fuel"`         // остаток топлива, т
	FuelCapacity float64 `json:"fuelCapacity"` // вместимость, т
	CO2          float64 `json:"co2"`          // остаток квоты CO2, т
	CO2Capacity  float64 `json:"co2Capacity"`
	Cash         float64 `json:"cash"` // свободные средства, $
}

// Prices - текущие биржевые цены
type Prices struct {
	Fuel      float64   `json:"fuel"`     // $/т
	CO2       float64   `json:"co2"`      // $/т
	Discount  float64   `json:"discount"` // промо-скидка, 0..1
	FetchedAt time.Time `json:"fetchedAt"`
}

// EffectiveFuel возвращает цену топлива с учётом скидки
func (p Prices) EffectiveFuel() float64 {
	return p.Fuel * (1 - p.Discount)
}

// EffectiveCO2 возвращает цену квоты с учётом скидки
func (p Prices) EffectiveCO2() float64 {
	return p.CO2 * (1 - p.Discount)
}

// Campaign - маркетинговая кампания
type Campaign struct {
	ID        int       `json:"id"`
	Type      string    `json:"type"`
	Active    bool      `json:"active"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// CoopStatus - состояние кооператива (альянса)
type CoopStatus struct {
	ID              int     `json:"id"`
	Name            string  `json:"name"`
	Member          bool    `json:"member"`
	ContributionDue float64 `json:"contributionDue"` // взнос, который ждёт кооператив
}

// Статусы пиратского дела
const (
	CaseStatusOpen        = "open"
	CaseStatusNegotiating = "negotiating"
	CaseStatusResolved    = "resolved" // терминальное состояние
)

// HostageCase - дело о захвате судна
type HostageCase struct {
	ID       int     `json:"id"`
	VesselID int     `json:"vesselId"`
	Ransom   float64 `json:"ransom"` // текущее требование выкупа, $
	Status   string  `json:"status"`
}

// Terminal сообщает, может ли дело ещё измениться
func (c HostageCase) Terminal() bool {
	return c.Status == CaseStatusResolved
}

// Header - данные шапки игрового интерфейса
type Header struct {
	Company string  `json:"company"`
	Points  int     `json:"points"`
	Cash    float64 `json:"cash"`
}

// GameEvent - событие из игровой ленты
type GameEvent struct {
	ID        int       `json:"id"`
	Type      string    `json:"type"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`
}

// InboxMessage - сообщение из общего игрового инбокса
type InboxMessage struct {
	ID        int       `json:"id"`
	Subject   string    `json:"subject"`
	Unread    bool      `json:"unread"`
	CreatedAt time.Time `json:"createdAt"`
}

// FleetCounts - дешёвые счётчики для бейджей интерфейса
type FleetCounts struct {
	Total       int `json:"total"`
	Idle        int `json:"idle"`
	Enroute     int `json:"enroute"`
	NeedRepair  int `json:"needRepair"`
	NeedDrydock int `json:"needDrydock"`
	Hijacked    int `json:"hijacked"`
	Unread      int `json:"unreadMessages"`
}
