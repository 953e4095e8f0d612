package models

// Settings - настройки автопилота для одного аккаунта
type Settings struct {
	Paused bool `json:"paused"` // глобальная пауза: пилоты не запускаются

	// Флаги включения пилотов
	RebuyFuel   bool `json:"rebuyFuel"`
	RebuyCO2    bool `json:"rebuyCo2"`
	AutoDepart  bool `json:"autoDepart"`
	AutoRepair  bool `json:"autoRepair"`
	AutoDrydock bool `json:"autoDrydock"`
	Coop        bool `json:"coop"`
	Hostage     bool `json:"hostage"`
	Marketing   bool `json:"marketing"`

	// Пороговые значения
	MaxFuelPrice   float64 `json:"maxFuelPrice"`   // $/т, выше - не покупаем
	MaxCO2Price    float64 `json:"maxCo2Price"`    // $/т
	CashReserve    float64 `json:"cashReserve"`    // неприкосновенный остаток, $
	MinUtilization float64 `json:"minUtilization"` // 0..1, минимальная загрузка рейса
	RepairWear     float64 `json:"repairWear"`     // %, износ для авторемонта
	DrydockHours   int     `json:"drydockHours"`   // часов до обязательного дока
	MaxRansom      float64 `json:"maxRansom"`      // максимальный выкуп за судно, $
	CoopAmount     float64 `json:"coopAmount"`     // взнос кооперативу за тик, $
}

// DefaultSettings возвращает безопасные значения по умолчанию
func DefaultSettings() Settings {
	return Settings{
		MaxFuelPrice:   400,
		MaxCO2Price:    15,
		CashReserve:    10000,
		MinUtilization: 0.5,
		RepairWear:     65,
		DrydockHours:   24,
		MaxRansom:      250000,
		CoopAmount:     5000,
	}
}
