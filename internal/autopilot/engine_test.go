package autopilot

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"sm_copilot/internal/game"
	"sm_copilot/internal/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeAPI реализует GameAPI через подменяемые функции;
// незаданный метод возвращает нулевое значение
type fakeAPI struct {
	mu    sync.Mutex
	calls map[string]int

	vessels   func() ([]models.Vessel, error)
	bunker    func() (models.Bunker, error)
	prices    func() (models.Prices, error)
	demand    func(portID int) (models.PortDemand, error)
	campaigns func() ([]models.Campaign, error)
	cases     func() ([]models.HostageCase, error)
	oneCase   func(id int) (models.HostageCase, error)
	coop      func() (models.CoopStatus, error)

	buyFuel  func(tons float64) (models.Bunker, error)
	buyCO2   func(tons float64) (models.Bunker, error)
	depart   func(vesselID, portID, cargo int) (game.DepartResult, error)
	repair   func(ids []int) error
	drydock  func(ids []int) error
	activate func(campaignType string) (models.Campaign, error)
	settle   func(caseID int, amount float64) (models.HostageCase, error)
	contrib  func(amount float64) error
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{calls: make(map[string]int)}
}

func (f *fakeAPI) count(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[name]++
}

func (f *fakeAPI) callCount(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *fakeAPI) GetVessels(context.Context) ([]models.Vessel, error) {
	f.count("GetVessels")
	if f.vessels != nil {
		return f.vessels()
	}
	return nil, nil
}

func (f *fakeAPI) GetBunker(context.Context) (models.Bunker, error) {
	f.count("GetBunker")
	if f.bunker != nil {
		return f.bunker()
	}
	return models.Bunker{}, nil
}

func (f *fakeAPI) GetPrices(context.Context) (models.Prices, error) {
	f.count("GetPrices")
	if f.prices != nil {
		return f.prices()
	}
	return models.Prices{}, nil
}

func (f *fakeAPI) GetPortDemand(_ context.Context, portID int) (models.PortDemand, error) {
	f.count("GetPortDemand")
	if f.demand != nil {
		return f.demand(portID)
	}
	return models.PortDemand{}, nil
}

func (f *fakeAPI) GetCampaigns(context.Context) ([]models.Campaign, error) {
	f.count("GetCampaigns")
	if f.campaigns != nil {
		return f.campaigns()
	}
	return nil, nil
}

func (f *fakeAPI) GetCases(context.Context) ([]models.HostageCase, error) {
	f.count("GetCases")
	if f.cases != nil {
		return f.cases()
	}
	return nil, nil
}

func (f *fakeAPI) GetCase(_ context.Context, id int) (models.HostageCase, error) {
	f.count("GetCase")
	if f.oneCase != nil {
		return f.oneCase(id)
	}
	return models.HostageCase{}, nil
}

func (f *fakeAPI) GetCoop(context.Context) (models.CoopStatus, error) {
	f.count("GetCoop")
	if f.coop != nil {
		return f.coop()
	}
	return models.CoopStatus{}, nil
}

func (f *fakeAPI) GetHeader(context.Context) (models.Header, error) {
	f.count("GetHeader")
	return models.Header{}, nil
}

func (f *fakeAPI) GetEvents(context.Context) ([]models.GameEvent, error) {
	f.count("GetEvents")
	return nil, nil
}

func (f *fakeAPI) GetInbox(context.Context) ([]models.InboxMessage, error) {
	f.count("GetInbox")
	return nil, nil
}

func (f *fakeAPI) BuyFuel(_ context.Context, tons float64) (models.Bunker, error) {
	f.count("BuyFuel")
	if f.buyFuel != nil {
		return f.buyFuel(tons)
	}
	return models.Bunker{}, nil
}

func (f *fakeAPI) BuyCO2(_ context.Context, tons float64) (models.Bunker, error) {
	f.count("BuyCO2")
	if f.buyCO2 != nil {
		return f.buyCO2(tons)
	}
	return models.Bunker{}, nil
}

func (f *fakeAPI) Depart(_ context.Context, vesselID, portID, cargo int) (game.DepartResult, error) {
	f.count("Depart")
	if f.depart != nil {
		return f.depart(vesselID, portID, cargo)
	}
	return game.DepartResult{}, nil
}

func (f *fakeAPI) Repair(_ context.Context, ids []int) error {
	f.count("Repair")
	if f.repair != nil {
		return f.repair(ids)
	}
	return nil
}

func (f *fakeAPI) Drydock(_ context.Context, ids []int) error {
	f.count("Drydock")
	if f.drydock != nil {
		return f.drydock(ids)
	}
	return nil
}

func (f *fakeAPI) ActivateCampaign(_ context.Context, campaignType string) (models.Campaign, error) {
	f.count("ActivateCampaign")
	if f.activate != nil {
		return f.activate(campaignType)
	}
	return models.Campaign{}, nil
}

func (f *fakeAPI) SettleCase(_ context.Context, caseID int, amount float64) (models.HostageCase, error) {
	f.count("SettleCase")
	if f.settle != nil {
		return f.settle(caseID, amount)
	}
	return models.HostageCase{}, nil
}

func (f *fakeAPI) Contribute(_ context.Context, amount float64) error {
	f.count("Contribute")
	if f.contrib != nil {
		return f.contrib(amount)
	}
	return nil
}

type fakeAudit struct {
	mu      sync.Mutex
	entries []models.AuditEntry
}

func (a *fakeAudit) Append(_ context.Context, entry models.AuditEntry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, entry)
	return nil
}

func (a *fakeAudit) byStatus(status string) []models.AuditEntry {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []models.AuditEntry
	for _, e := range a.entries {
		if e.Status == status {
			out = append(out, e)
		}
	}
	return out
}

type busEvent struct {
	accountID int
	eventType string
	payload   any
}

type fakeBus struct {
	mu     sync.Mutex
	events []busEvent
}

func (b *fakeBus) Publish(accountID int, eventType string, payload any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, busEvent{accountID, eventType, payload})
}

func (b *fakeBus) byType(eventType string) []busEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []busEvent
	for _, e := range b.events {
		if e.eventType == eventType {
			out = append(out, e)
		}
	}
	return out
}

func newTestEngine(t *testing.T, api *fakeAPI, settings models.Settings) (*Engine, *AccountState, *fakeAudit, *fakeBus) {
	t.Helper()

	logger := testLogger()
	store := NewStore(func(models.Account) (GameAPI, error) { return api, nil }, logger)

	st, err := store.GetOrCreate(models.Account{ID: 1, Name: "test"})
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	st.SetSettings(settings)

	audit := &fakeAudit{}
	bus := &fakeBus{}
	engine := NewEngine(store, NewLockManager(), audit, bus, nil, EngineConfig{}, logger)

	return engine, st, audit, bus
}

func TestRebuyQuantity(t *testing.T) {
	tests := []struct {
		name      string
		freeSpace float64
		cash      float64
		reserve   float64
		price     float64
		want      float64
	}{
		{"budget limits", 120, 50000, 10000, 380, 105},
		{"space limits", 50, 50000, 10000, 380, 50},
		{"reserve eats budget", 120, 9000, 10000, 380, 0},
		{"full bunker", 0, 50000, 10000, 380, 0},
		{"zero price", 120, 50000, 10000, 0, 0},
		{"exact budget", 100, 10380, 10000, 380, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := RebuyQuantity(tt.freeSpace, tt.cash, tt.reserve, tt.price)
			if got != tt.want {
				t.Errorf("RebuyQuantity(%v, %v, %v, %v) = %v, want %v",
					tt.freeSpace, tt.cash, tt.reserve, tt.price, got, tt.want)
			}
		})
	}
}

func TestRebuyBuysUpToReserve(t *testing.T) {
	api := newFakeAPI()
	api.bunker = func() (models.Bunker, error) {
		return models.Bunker{Fuel: 0, FuelCapacity: 120, Cash: 50000}, nil
	}
	api.prices = func() (models.Prices, error) {
		return models.Prices{Fuel: 380}, nil
	}

	var bought float64
	api.buyFuel = func(tons float64) (models.Bunker, error) {
		bought = tons
		return models.Bunker{Fuel: tons, FuelCapacity: 120, Cash: 50000 - tons*380}, nil
	}

	settings := models.DefaultSettings()
	settings.RebuyFuel = true
	settings.RebuyCO2 = false
	settings.MaxFuelPrice = 400
	settings.CashReserve = 10000

	engine, st, audit, _ := newTestEngine(t, api, settings)

	if err := engine.runRebuy(context.Background(), st, settings); err != nil {
		t.Fatalf("runRebuy: %v", err)
	}

	if bought != 105 {
		t.Errorf("bought %v tons, want 105", bought)
	}
	if warns := audit.byStatus(models.AuditWarning); len(warns) != 0 {
		t.Errorf("unexpected warnings: %v", warns)
	}
}

func TestRebuySkipsAbovePriceLimit(t *testing.T) {
	api := newFakeAPI()
	api.bunker = func() (models.Bunker, error) {
		return models.Bunker{FuelCapacity: 120, Cash: 50000}, nil
	}
	api.prices = func() (models.Prices, error) {
		return models.Prices{Fuel: 450}, nil
	}

	settings := models.DefaultSettings()
	settings.RebuyFuel = true
	settings.MaxFuelPrice = 400

	engine, st, audit, _ := newTestEngine(t, api, settings)

	if err := engine.runRebuy(context.Background(), st, settings); err != nil {
		t.Fatalf("runRebuy: %v", err)
	}

	if api.callCount("BuyFuel") != 0 {
		t.Error("BuyFuel called despite price above limit")
	}
	// цена выше потолка - условие не выполнено, в журнале ничего нет
	if len(audit.entries) != 0 {
		t.Errorf("unexpected audit entries: %v", audit.entries)
	}
}

func TestRebuyWarnsWhenReserveLeavesNoBudget(t *testing.T) {
	api := newFakeAPI()
	api.bunker = func() (models.Bunker, error) {
		return models.Bunker{FuelCapacity: 120, Cash: 10100}, nil
	}
	api.prices = func() (models.Prices, error) {
		return models.Prices{Fuel: 380}, nil
	}

	settings := models.DefaultSettings()
	settings.RebuyFuel = true
	settings.MaxFuelPrice = 400
	settings.CashReserve = 10000

	engine, st, audit, _ := newTestEngine(t, api, settings)

	if err := engine.runRebuy(context.Background(), st, settings); err != nil {
		t.Fatalf("runRebuy: %v", err)
	}

	if api.callCount("BuyFuel") != 0 {
		t.Error("BuyFuel called with no budget over reserve")
	}
	if warns := audit.byStatus(models.AuditWarning); len(warns) != 1 {
		t.Errorf("got %d warnings, want 1", len(warns))
	}
}

func TestRebuySkipsOnLockConflict(t *testing.T) {
	api := newFakeAPI()
	api.bunker = func() (models.Bunker, error) {
		return models.Bunker{FuelCapacity: 120, Cash: 50000}, nil
	}
	api.prices = func() (models.Prices, error) {
		return models.Prices{Fuel: 380}, nil
	}

	settings := models.DefaultSettings()
	settings.RebuyFuel = true
	settings.MaxFuelPrice = 400

	engine, st, _, _ := newTestEngine(t, api, settings)

	// кто-то уже покупает топливо для этого аккаунта
	if !engine.locks.TryAcquire(st.ID, LockFuel) {
		t.Fatal("TryAcquire failed on fresh manager")
	}
	defer engine.locks.Release(st.ID, LockFuel)

	if err := engine.runRebuy(context.Background(), st, settings); err != nil {
		t.Fatalf("runRebuy: %v", err)
	}

	if api.callCount("BuyFuel") != 0 {
		t.Error("BuyFuel called despite held lock")
	}
}

func TestDepartDropsAlreadyDeparted(t *testing.T) {
	api := newFakeAPI()
	api.vessels = func() ([]models.Vessel, error) {
		return []models.Vessel{
			{ID: 1, Name: "Alpha", CargoType: "container", Capacity: 100,
				Status: models.VesselStatusIdle, RoutePortID: 7},
		}, nil
	}
	api.demand = func(int) (models.PortDemand, error) {
		return models.PortDemand{
			PortID:    7,
			UnitPrice: 12,
			Categories: []models.CategoryDemand{
				{CargoType: "container", Category: "dry", Total: 500},
			},
		}, nil
	}
	api.depart = func(int, int, int) (game.DepartResult, error) {
		return game.DepartResult{}, game.ErrAlreadyDeparted
	}

	settings := models.DefaultSettings()
	settings.AutoDepart = true
	settings.MinUtilization = 0.5

	engine, st, audit, _ := newTestEngine(t, api, settings)

	if err := engine.runDepart(context.Background(), st, settings); err != nil {
		t.Fatalf("runDepart: %v", err)
	}

	// гонка со состоянием игры - не событие для журнала
	if errs := audit.byStatus(models.AuditError); len(errs) != 0 {
		t.Errorf("unexpected error entries: %v", errs)
	}
}

func TestDepartWarnsOnNegativeRevenue(t *testing.T) {
	api := newFakeAPI()
	api.vessels = func() ([]models.Vessel, error) {
		return []models.Vessel{
			{ID: 1, Name: "Alpha", CargoType: "container", Capacity: 100,
				Status: models.VesselStatusIdle, RoutePortID: 7},
		}, nil
	}
	api.demand = func(int) (models.PortDemand, error) {
		return models.PortDemand{
			PortID:    7,
			UnitPrice: 12,
			Categories: []models.CategoryDemand{
				{CargoType: "container", Category: "dry", Total: 500},
			},
		}, nil
	}
	api.depart = func(vesselID, _, _ int) (game.DepartResult, error) {
		return game.DepartResult{VesselID: vesselID, Revenue: 100, Fees: 900}, nil
	}

	settings := models.DefaultSettings()
	settings.AutoDepart = true
	settings.MinUtilization = 0.5

	engine, st, audit, _ := newTestEngine(t, api, settings)

	if err := engine.runDepart(context.Background(), st, settings); err != nil {
		t.Fatalf("runDepart: %v", err)
	}

	warns := audit.byStatus(models.AuditWarning)
	if len(warns) != 1 {
		t.Fatalf("got %d warnings, want 1", len(warns))
	}
}

func TestDepartPublishesProgressPerChunk(t *testing.T) {
	var vessels []models.Vessel
	for i := 1; i <= 45; i++ {
		vessels = append(vessels, models.Vessel{
			ID: i, Name: "V", CargoType: "container", Capacity: 10,
			Status: models.VesselStatusIdle, RoutePortID: 7,
		})
	}

	api := newFakeAPI()
	api.vessels = func() ([]models.Vessel, error) { return vessels, nil }
	api.demand = func(int) (models.PortDemand, error) {
		return models.PortDemand{
			PortID:    7,
			UnitPrice: 12,
			Categories: []models.CategoryDemand{
				{CargoType: "container", Category: "dry", Total: 100000},
			},
		}, nil
	}
	api.depart = func(vesselID, _, _ int) (game.DepartResult, error) {
		return game.DepartResult{VesselID: vesselID, Revenue: 100}, nil
	}

	settings := models.DefaultSettings()
	settings.AutoDepart = true
	settings.MinUtilization = 0.5

	engine, st, _, bus := newTestEngine(t, api, settings)

	if err := engine.runDepart(context.Background(), st, settings); err != nil {
		t.Fatalf("runDepart: %v", err)
	}

	// 45 судов при пачке 20 дают три отчёта о ходе выполнения
	progress := bus.byType("dispatchProgress")
	if len(progress) != 3 {
		t.Fatalf("got %d progress events, want 3", len(progress))
	}

	last := progress[len(progress)-1].payload.(DispatchReport)
	if !last.Completed {
		t.Error("last progress event not marked completed")
	}
	if last.Departed != 45 {
		t.Errorf("departed %d, want 45", last.Departed)
	}
}

func TestDepartErrorCountsAndContinues(t *testing.T) {
	api := newFakeAPI()
	api.vessels = func() ([]models.Vessel, error) {
		return []models.Vessel{
			{ID: 1, Name: "Alpha", CargoType: "container", Capacity: 100,
				Status: models.VesselStatusIdle, RoutePortID: 7},
			{ID: 2, Name: "Beta", CargoType: "container", Capacity: 100,
				Status: models.VesselStatusIdle, RoutePortID: 7},
		}, nil
	}
	api.demand = func(int) (models.PortDemand, error) {
		return models.PortDemand{
			PortID:    7,
			UnitPrice: 12,
			Categories: []models.CategoryDemand{
				{CargoType: "container", Category: "dry", Total: 500},
			},
		}, nil
	}
	api.depart = func(vesselID, _, _ int) (game.DepartResult, error) {
		if vesselID == 1 {
			return game.DepartResult{}, errors.New("gateway timeout")
		}
		return game.DepartResult{VesselID: vesselID, Revenue: 100}, nil
	}

	settings := models.DefaultSettings()
	settings.AutoDepart = true
	settings.MinUtilization = 0.5

	engine, st, audit, bus := newTestEngine(t, api, settings)

	if err := engine.runDepart(context.Background(), st, settings); err != nil {
		t.Fatalf("runDepart: %v", err)
	}

	if errs := audit.byStatus(models.AuditError); len(errs) != 1 {
		t.Fatalf("got %d error entries, want 1", len(errs))
	}

	progress := bus.byType("dispatchProgress")
	last := progress[len(progress)-1].payload.(DispatchReport)
	if last.Departed != 1 || last.Failed != 1 {
		t.Errorf("departed=%d failed=%d, want 1/1", last.Departed, last.Failed)
	}
}

func TestDepartMidRunRebuyRefetchesBunker(t *testing.T) {
	var vessels []models.Vessel
	for i := 1; i <= 25; i++ {
		vessels = append(vessels, models.Vessel{
			ID: i, Name: "V", CargoType: "container", Capacity: 10,
			Status: models.VesselStatusIdle, RoutePortID: 7,
		})
	}

	api := newFakeAPI()
	api.vessels = func() ([]models.Vessel, error) { return vessels, nil }
	api.demand = func(int) (models.PortDemand, error) {
		return models.PortDemand{
			PortID:    7,
			UnitPrice: 12,
			Categories: []models.CategoryDemand{
				{CargoType: "container", Category: "dry", Total: 100000},
			},
		}, nil
	}
	api.depart = func(vesselID, _, _ int) (game.DepartResult, error) {
		return game.DepartResult{VesselID: vesselID, Revenue: 100}, nil
	}
	// к моменту паузы между пачками бункер уже выжжен первой пачкой
	api.bunker = func() (models.Bunker, error) {
		return models.Bunker{Fuel: 0, FuelCapacity: 120, Cash: 50000}, nil
	}
	api.prices = func() (models.Prices, error) {
		return models.Prices{Fuel: 380}, nil
	}

	var bought float64
	api.buyFuel = func(tons float64) (models.Bunker, error) {
		bought = tons
		return models.Bunker{Fuel: tons, FuelCapacity: 120, Cash: 50000 - tons*380}, nil
	}

	settings := models.DefaultSettings()
	settings.AutoDepart = true
	settings.RebuyFuel = true
	settings.MaxFuelPrice = 400
	settings.CashReserve = 10000
	settings.MinUtilization = 0.5

	engine, st, _, _ := newTestEngine(t, api, settings)

	// снапшот начала тика: бункер полон, докупать нечего
	st.SetBunker(models.Bunker{Fuel: 120, FuelCapacity: 120, Cash: 50000})
	st.SetPrices(models.Prices{Fuel: 380})

	if err := engine.runDepart(context.Background(), st, settings); err != nil {
		t.Fatalf("runDepart: %v", err)
	}

	// 25 судов при пачке 20 дают одну паузу между пачками
	if got := api.callCount("GetBunker"); got != 1 {
		t.Errorf("GetBunker called %d times, want 1: mid-run rebuy must refetch", got)
	}
	if got := api.callCount("BuyFuel"); got != 1 {
		t.Fatalf("BuyFuel called %d times, want 1", got)
	}
	if bought != 105 {
		t.Errorf("bought %v tons, want 105", bought)
	}
}

func TestSnapshotServesCachedAndFetchesMissing(t *testing.T) {
	api := newFakeAPI()
	api.bunker = func() (models.Bunker, error) {
		return models.Bunker{Fuel: 40, FuelCapacity: 120, Cash: 50000}, nil
	}

	settings := models.DefaultSettings()
	engine, st, _, _ := newTestEngine(t, api, settings)

	cached := []models.Vessel{{ID: 1, Name: "Alpha", Status: models.VesselStatusEnroute}}
	st.SetVessels(cached)

	events, err := engine.Snapshot(context.Background(), st.ID)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}

	// флот уже известен, за ним в игру не ходим
	if got := api.callCount("GetVessels"); got != 0 {
		t.Errorf("GetVessels called %d times for cached fleet, want 0", got)
	}

	// недостающие категории запрашиваются ровно по разу
	for _, call := range []string{"GetBunker", "GetPrices", "GetCampaigns", "GetCoop", "GetHeader", "GetEvents"} {
		if got := api.callCount(call); got != 1 {
			t.Errorf("%s called %d times, want 1", call, got)
		}
	}

	var fleet []models.Vessel
	for _, ev := range events {
		if ev.Type == "fleet" {
			fleet = ev.Payload.([]models.Vessel)
		}
	}
	if len(fleet) != 1 || fleet[0].Name != "Alpha" {
		t.Errorf("fleet event payload %+v, want cached vessels", fleet)
	}

	// повторный снапшот собирается из уже прогретого состояния
	if _, err := engine.Snapshot(context.Background(), st.ID); err != nil {
		t.Fatalf("second Snapshot: %v", err)
	}
	for _, call := range []string{"GetVessels", "GetBunker", "GetPrices", "GetCampaigns", "GetCoop"} {
		if api.callCount(call) > 1 {
			t.Errorf("%s refetched on warm snapshot", call)
		}
	}
}
