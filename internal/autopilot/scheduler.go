package autopilot

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"sm_copilot/internal/broadcast"
	"sm_copilot/internal/models"
)

// Notifier - внешний канал уведомлений об инцидентах (опционален)
type Notifier interface {
	NotifyAudit(entry models.AuditEntry)
}

// Pilot - независимая единица принятия решений, выполняемая раз в тик.
// Пилоты регистрируются списком, порядок списка - порядок выполнения.
type Pilot struct {
	Name     string
	Category string // категория блокировки для записей журнала
	Enabled  func(models.Settings) bool
	Run      func(ctx context.Context, st *AccountState, settings models.Settings) error
}

// EngineConfig - параметры движка автопилота
type EngineConfig struct {
	Interval  time.Duration // период тика, по умолчанию 60с
	ChunkSize int           // размер пачки отправок, по умолчанию 20
	DryRun    bool          // только логировать мутации, не вызывать API
}

// Engine - движок автопилота: планировщик тиков, пилоты и рассылка состояния
type Engine struct {
	store  *Store
	locks  *LockManager
	audit  AuditSink
	bus    Broadcaster
	notify Notifier // может быть nil
	logger *slog.Logger

	interval  time.Duration
	chunkSize int
	dryRun    bool

	cron   *cron.Cron
	pilots []Pilot

	refreshGuard *refreshGuard
	tickGuard    *refreshGuard
}

// NewEngine создает движок с фиксированным порядком пилотов:
// rebuy → depart → repair → drydock → coop → hostage → marketing
func NewEngine(store *Store, locks *LockManager, audit AuditSink, bus Broadcaster, notify Notifier, cfg EngineConfig, logger *slog.Logger) *Engine {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 20
	}

	e := &Engine{
		store:        store,
		locks:        locks,
		audit:        audit,
		bus:          bus,
		notify:       notify,
		logger:       logger,
		interval:     cfg.Interval,
		chunkSize:    cfg.ChunkSize,
		dryRun:       cfg.DryRun,
		cron:         cron.New(),
		refreshGuard: newRefreshGuard(),
		tickGuard:    newRefreshGuard(),
	}

	e.pilots = []Pilot{
		{
			Name:     "rebuy",
			Category: LockFuel,
			Enabled:  func(s models.Settings) bool { return s.RebuyFuel || s.RebuyCO2 },
			Run:      e.runRebuy,
		},
		{
			Name:     "depart",
			Category: LockDepart,
			Enabled:  func(s models.Settings) bool { return s.AutoDepart },
			Run:      e.runDepart,
		},
		{
			Name:     "repair",
			Category: LockRepair,
			Enabled:  func(s models.Settings) bool { return s.AutoRepair },
			Run:      e.runRepair,
		},
		{
			Name:     "drydock",
			Category: LockDrydock,
			Enabled:  func(s models.Settings) bool { return s.AutoDrydock },
			Run:      e.runDrydock,
		},
		{
			Name:     "coop",
			Category: LockBulkBuy,
			Enabled:  func(s models.Settings) bool { return s.Coop },
			Run:      e.runCoop,
		},
		{
			Name:     "hostage",
			Category: LockBulkBuy,
			Enabled:  func(s models.Settings) bool { return s.Hostage },
			Run:      e.runHostage,
		},
		{
			Name:     "marketing",
			Category: LockBulkBuy,
			Enabled:  func(s models.Settings) bool { return s.Marketing },
			Run:      e.runMarketing,
		},
	}

	return e
}

// SetBroadcaster подключает канал рассылки. Hub собирает снапшоты через
// движок, а движок шлёт дельты через hub, поэтому рассылка подключается
// отдельным шагом до Start.
func (e *Engine) SetBroadcaster(bus Broadcaster) {
	e.bus = bus
}

// Start запускает периодический тик
func (e *Engine) Start() error {
	if _, err := e.cron.AddFunc(fmt.Sprintf("@every %s", e.interval), e.tickAll); err != nil {
		return fmt.Errorf("register tick: %w", err)
	}
	e.cron.Start()

	e.logger.Info("🚀 Autopilot started",
		slog.Duration("interval", e.interval),
		slog.Bool("dry_run", e.dryRun))

	return nil
}

// Stop останавливает планировщик; начатые тики дорабатывают
func (e *Engine) Stop() {
	ctx := e.cron.Stop()
	<-ctx.Done()
	e.logger.Info("🛑 Autopilot stopped")
}

// Store возвращает хранилище состояний аккаунтов
func (e *Engine) Store() *Store {
	return e.store
}

// tickAll запускает тик каждого известного аккаунта.
// Между аккаунтами порядок не гарантируется; внутри аккаунта пилоты
// выполняются строго последовательно.
func (e *Engine) tickAll() {
	for _, st := range e.store.List() {
		go func(st *AccountState) {
			ctx, cancel := context.WithTimeout(context.Background(), e.interval)
			defer cancel()
			e.RunTick(ctx, st)
		}(st)
	}
}

// RunTick выполняет один тик для одного аккаунта.
// Ошибка любого пилота пишется в журнал и не прерывает ни тик, ни процесс.
// Пока предыдущий тик аккаунта не закончился, новый не начинается: иначе
// затянувшийся проход отправки ломал бы фиксированный порядок пилотов.
func (e *Engine) RunTick(ctx context.Context, st *AccountState) {
	if !e.tickGuard.tryBegin(st.ID) {
		e.logger.Debug("Tick still running, skipped", slog.Int("account_id", st.ID))
		return
	}
	defer e.tickGuard.end(st.ID)

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("💥 Tick panic",
				slog.Int("account_id", st.ID),
				slog.Any("panic", r))
		}
	}()

	settings, ok := st.Settings()
	if !ok {
		// настроек нет - тик пропускается целиком, попробуем в следующий раз
		e.logger.Debug("Tick skipped: no settings", slog.Int("account_id", st.ID))
		return
	}

	// дешёвые бейджи обновляются всегда, даже на паузе
	e.refreshBadges(ctx, st)

	if settings.Paused {
		e.logger.Debug("Tick: paused, pilots skipped", slog.Int("account_id", st.ID))
		return
	}

	for _, p := range e.pilots {
		if !p.Enabled(settings) {
			continue
		}
		e.runPilot(ctx, st, settings, p)
	}
}

// runPilot - граница перехвата ошибок одного пилота
func (e *Engine) runPilot(ctx context.Context, st *AccountState, settings models.Settings, p Pilot) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("💥 Pilot panic",
				slog.String("pilot", p.Name),
				slog.Int("account_id", st.ID),
				slog.Any("panic", r))
			e.writeAudit(ctx, st.ID, p.Category, p.Name, models.AuditError,
				models.SourceAutomated,
				fmt.Sprintf("Pilot %s crashed", p.Name),
				fmt.Sprint(r))
		}
	}()

	if err := p.Run(ctx, st, settings); err != nil {
		e.writeAudit(ctx, st.ID, p.Category, p.Name, models.AuditError,
			models.SourceAutomated,
			fmt.Sprintf("Pilot %s failed", p.Name),
			err.Error())
	}
}

// refreshBadges обновляет дешёвое состояние для бейджей интерфейса
func (e *Engine) refreshBadges(ctx context.Context, st *AccountState) {
	vessels, err := st.api.GetVessels(ctx)
	if err != nil {
		e.logger.Warn("Badge refresh: fleet fetch failed",
			slog.Int("account_id", st.ID),
			slog.Any("error", err))
		return
	}
	st.SetVessels(vessels)

	// общий инбокс читается через разделяемый кэш: бейджи, coop-пилот и
	// сборка снапшота делят один и тот же запрос
	if inbox, err := st.Inbox.Get(ctx, "inbox"); err == nil {
		unread := 0
		for _, m := range inbox {
			if m.Unread {
				unread++
			}
		}
		st.SetUnread(unread)
	}

	e.bus.Publish(st.ID, broadcast.EventBadges, st.Counts())
	e.bus.Publish(st.ID, broadcast.EventFleet, vessels)
}

// writeAudit пишет запись журнала, рассылает её зрителям и дублирует
// серьёзные записи во внешний канал уведомлений. Сбой записи журнала
// не прерывает вызвавший workflow.
func (e *Engine) writeAudit(ctx context.Context, accountID int, category, action, status, source, summary, details string) {
	entry := models.AuditEntry{
		ID:        uuid.NewString(),
		AccountID: accountID,
		Category:  category,
		Action:    action,
		Summary:   summary,
		Details:   details,
		Status:    status,
		Source:    source,
		CreatedAt: time.Now(),
	}

	if err := e.audit.Append(ctx, entry); err != nil {
		e.logger.Warn("Audit append failed",
			slog.String("action", action),
			slog.Any("error", err))
	}

	// сырой текст внешней ошибки остаётся в журнале; зрителям уходит
	// запись без него, хватает Summary
	public := entry
	if status == models.AuditError {
		public.Details = ""
	}
	e.bus.Publish(accountID, broadcast.EventAuditLog, public)

	if e.notify != nil && (status == models.AuditWarning || status == models.AuditError) {
		e.notify.NotifyAudit(entry)
	}
}
