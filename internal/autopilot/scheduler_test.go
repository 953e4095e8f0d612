package autopilot

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"sm_copilot/internal/models"
)

func TestTickSkipsAccountWithoutSettings(t *testing.T) {
	api := newFakeAPI()
	logger := testLogger()
	store := NewStore(func(models.Account) (GameAPI, error) { return api, nil }, logger)

	st, err := store.GetOrCreate(models.Account{ID: 1, Name: "fresh"})
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}

	engine := NewEngine(store, NewLockManager(), &fakeAudit{}, &fakeBus{}, nil, EngineConfig{}, logger)
	engine.RunTick(context.Background(), st)

	// без настроек тик не трогает игру вообще
	if api.callCount("GetVessels") != 0 {
		t.Error("GetVessels called for account without settings")
	}
}

func TestPausedTickRefreshesBadgesOnly(t *testing.T) {
	api := newFakeAPI()
	api.vessels = func() ([]models.Vessel, error) {
		return []models.Vessel{
			{ID: 1, Status: models.VesselStatusIdle, Wear: 80},
			{ID: 2, Status: models.VesselStatusEnroute},
		}, nil
	}

	settings := models.DefaultSettings()
	settings.Paused = true
	settings.RebuyFuel = true
	settings.AutoDepart = true

	engine, st, _, bus := newTestEngine(t, api, settings)
	engine.RunTick(context.Background(), st)

	if api.callCount("GetVessels") != 1 {
		t.Errorf("GetVessels called %d times, want 1", api.callCount("GetVessels"))
	}
	if api.callCount("GetPrices") != 0 || api.callCount("BuyFuel") != 0 || api.callCount("Depart") != 0 {
		t.Error("paused tick reached a pilot")
	}

	badges := bus.byType("badges")
	if len(badges) != 1 {
		t.Fatalf("got %d badge events, want 1", len(badges))
	}
	counts := badges[0].payload.(models.FleetCounts)
	if counts.NeedRepair != 1 || counts.Enroute != 1 {
		t.Errorf("unexpected counts: %+v", counts)
	}
}

func TestTickContinuesAfterPilotFailure(t *testing.T) {
	api := newFakeAPI()
	api.prices = func() (models.Prices, error) {
		return models.Prices{}, errors.New("gateway timeout")
	}

	settings := models.DefaultSettings()
	settings.RebuyFuel = true
	settings.Marketing = true

	engine, st, audit, _ := newTestEngine(t, api, settings)
	engine.RunTick(context.Background(), st)

	// rebuy упал, но marketing всё равно выполнился
	if api.callCount("GetCampaigns") == 0 {
		t.Error("marketing pilot did not run after rebuy failure")
	}
	if errs := audit.byStatus(models.AuditError); len(errs) != 1 {
		t.Fatalf("got %d error entries, want 1", len(errs))
	}
}

func TestTickRecoversPilotPanic(t *testing.T) {
	api := newFakeAPI()
	api.bunker = func() (models.Bunker, error) {
		panic("unexpected payload shape")
	}

	settings := models.DefaultSettings()
	settings.RebuyFuel = true
	settings.Marketing = true

	engine, st, audit, _ := newTestEngine(t, api, settings)
	engine.RunTick(context.Background(), st)

	if api.callCount("GetCampaigns") == 0 {
		t.Error("marketing pilot did not run after rebuy panic")
	}

	errs := audit.byStatus(models.AuditError)
	if len(errs) != 1 {
		t.Fatalf("got %d error entries, want 1", len(errs))
	}
}

func TestDisabledPilotsDoNotRun(t *testing.T) {
	api := newFakeAPI()

	settings := models.DefaultSettings() // все пилоты выключены

	engine, st, _, _ := newTestEngine(t, api, settings)
	engine.RunTick(context.Background(), st)

	for _, call := range []string{"GetPrices", "BuyFuel", "Depart", "Repair", "Drydock", "GetCases", "GetCoop", "GetCampaigns"} {
		if api.callCount(call) != 0 {
			t.Errorf("%s called with all pilots disabled", call)
		}
	}
}

func TestManualDepartBusyDuringPass(t *testing.T) {
	api := newFakeAPI()

	settings := models.DefaultSettings()
	engine, st, _, _ := newTestEngine(t, api, settings)

	if !engine.locks.TryAcquire(st.ID, LockDepart) {
		t.Fatal("TryAcquire failed on fresh manager")
	}
	defer engine.locks.Release(st.ID, LockDepart)

	_, err := engine.ManualDepart(context.Background(), st, 1, 7, 100)
	if !errors.Is(err, ErrBusy) {
		t.Fatalf("got %v, want ErrBusy", err)
	}
	if api.callCount("Depart") != 0 {
		t.Error("Depart called despite held lock")
	}
}

func TestHostagePilotSettlesWithinLimit(t *testing.T) {
	api := newFakeAPI()
	api.cases = func() ([]models.HostageCase, error) {
		return []models.HostageCase{
			{ID: 1, VesselID: 10, Ransom: 100000, Status: models.CaseStatusOpen},
			{ID: 2, VesselID: 11, Ransom: 900000, Status: models.CaseStatusOpen},
			{ID: 3, VesselID: 12, Ransom: 50000, Status: models.CaseStatusResolved},
		}, nil
	}
	api.bunker = func() (models.Bunker, error) {
		return models.Bunker{Cash: 500000}, nil
	}

	var settled []int
	api.settle = func(caseID int, _ float64) (models.HostageCase, error) {
		settled = append(settled, caseID)
		return models.HostageCase{ID: caseID, Status: models.CaseStatusResolved}, nil
	}

	settings := models.DefaultSettings()
	settings.Hostage = true
	settings.MaxRansom = 250000

	engine, st, audit, _ := newTestEngine(t, api, settings)

	if err := engine.runHostage(context.Background(), st, settings); err != nil {
		t.Fatalf("runHostage: %v", err)
	}

	if len(settled) != 1 || settled[0] != 1 {
		t.Errorf("settled %v, want [1]", settled)
	}
	// выкуп выше лимита остаётся в журнале предупреждением
	if warns := audit.byStatus(models.AuditWarning); len(warns) != 1 {
		t.Errorf("got %d warnings, want 1", len(warns))
	}

	// закрытое дело заморожено и не дёргает API при повторном чтении
	before := api.callCount("GetCase")
	if _, err := st.Cases.Get(context.Background(), CaseKey(3)); err != nil {
		t.Fatalf("cached case: %v", err)
	}
	if api.callCount("GetCase") != before {
		t.Error("terminal case refetched")
	}
}

func TestCoopPilotContributes(t *testing.T) {
	api := newFakeAPI()
	api.coop = func() (models.CoopStatus, error) {
		return models.CoopStatus{ID: 5, Name: "North Star", Member: true, ContributionDue: 3000}, nil
	}
	api.bunker = func() (models.Bunker, error) {
		return models.Bunker{Cash: 100000}, nil
	}

	var contributed float64
	api.contrib = func(amount float64) error {
		contributed = amount
		return nil
	}

	settings := models.DefaultSettings()
	settings.Coop = true
	settings.CoopAmount = 5000

	engine, st, _, _ := newTestEngine(t, api, settings)

	if err := engine.runCoop(context.Background(), st, settings); err != nil {
		t.Fatalf("runCoop: %v", err)
	}

	if contributed != 3000 {
		t.Errorf("contributed %v, want 3000 (due, not cap)", contributed)
	}
}

func TestRepairPilotChecksBudget(t *testing.T) {
	api := newFakeAPI()
	api.vessels = func() ([]models.Vessel, error) {
		return []models.Vessel{
			{ID: 1, Status: models.VesselStatusIdle, Wear: 80, RepairCost: 40000},
			{ID: 2, Status: models.VesselStatusEnroute, Wear: 90, RepairCost: 40000},
		}, nil
	}
	api.bunker = func() (models.Bunker, error) {
		return models.Bunker{Cash: 30000}, nil
	}

	settings := models.DefaultSettings()
	settings.AutoRepair = true
	settings.RepairWear = 65
	settings.CashReserve = 10000

	engine, st, audit, _ := newTestEngine(t, api, settings)

	if err := engine.runRepair(context.Background(), st, settings); err != nil {
		t.Fatalf("runRepair: %v", err)
	}

	if api.callCount("Repair") != 0 {
		t.Error("Repair called without budget over reserve")
	}
	if warns := audit.byStatus(models.AuditWarning); len(warns) != 1 {
		t.Errorf("got %d warnings, want 1", len(warns))
	}
}

func TestAuditErrorBroadcastOmitsRawError(t *testing.T) {
	api := newFakeAPI()
	api.prices = func() (models.Prices, error) {
		return models.Prices{}, errors.New("dial tcp 10.0.0.7:443: connection refused")
	}

	settings := models.DefaultSettings()
	settings.RebuyFuel = true

	engine, st, audit, bus := newTestEngine(t, api, settings)
	engine.RunTick(context.Background(), st)

	// журнал хранит полный текст ошибки
	errs := audit.byStatus(models.AuditError)
	if len(errs) != 1 {
		t.Fatalf("got %d error entries, want 1", len(errs))
	}
	if !strings.Contains(errs[0].Details, "connection refused") {
		t.Errorf("persisted entry lost error text: %q", errs[0].Details)
	}

	// зрителям сырой текст не уходит
	for _, ev := range bus.byType("log") {
		entry := ev.payload.(models.AuditEntry)
		if entry.Status != models.AuditError {
			continue
		}
		if entry.Details != "" {
			t.Errorf("broadcast entry carries raw error text: %q", entry.Details)
		}
		if entry.Summary == "" {
			t.Error("broadcast entry lost its summary")
		}
	}
}

func TestTickSkipsWhenPreviousStillRunning(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once

	api := newFakeAPI()
	api.vessels = func() ([]models.Vessel, error) {
		once.Do(func() {
			close(entered)
			<-release
		})
		return nil, nil
	}

	settings := models.DefaultSettings()
	engine, st, _, _ := newTestEngine(t, api, settings)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		engine.RunTick(context.Background(), st)
	}()
	<-entered

	// первый тик завис на обновлении бейджей, второй уходит ни с чем
	engine.RunTick(context.Background(), st)
	if got := api.callCount("GetVessels"); got != 1 {
		t.Errorf("GetVessels called %d times during overlap, want 1", got)
	}

	close(release)
	wg.Wait()

	// после завершения предыдущего тика следующий проходит как обычно
	engine.RunTick(context.Background(), st)
	if got := api.callCount("GetVessels"); got != 2 {
		t.Errorf("GetVessels called %d times after release, want 2", got)
	}
}
