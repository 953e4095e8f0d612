package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"

	"sm_copilot/internal/api"
	"sm_copilot/internal/auth"
	"sm_copilot/internal/autopilot"
	"sm_copilot/internal/broadcast"
	"sm_copilot/internal/config"
	"sm_copilot/internal/game"
	"sm_copilot/internal/models"
	"sm_copilot/internal/notifier"
	"sm_copilot/internal/storage"
)

func main() {
	// Конфигурация slog для вывода в файл и stdout
	bootLogger := slog.New(tint.NewHandler(os.Stdout, &tint.Options{
		Level:      slog.LevelInfo,
		TimeFormat: time.Kitchen,
	}))

	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "config.yaml"
	}

	cfg, err := config.Load(cfgPath, bootLogger)
	if err != nil {
		bootLogger.Error("Failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logFile, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o666)
	if err != nil {
		log.Fatal("Failed to open log file:", err)
	}
	defer logFile.Close()

	level := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if cfg.Server.DebugMode {
		level = slog.LevelDebug
	}

	// Pretty handler для stdout с цветами
	prettyHandler := tint.NewHandler(os.Stdout, &tint.Options{
		Level:      level,
		TimeFormat: time.Kitchen, // "3:04PM"
		AddSource:  false,
		NoColor:    false,
	})

	// Обычный текстовый handler для файла
	fileHandler := slog.NewTextHandler(logFile, &slog.HandlerOptions{
		Level: level,
	})

	// Мультиплексируем логи в оба handler'а
	logger := slog.New(&multiHandler{
		handlers: []slog.Handler{prettyHandler, fileHandler},
	})

	logger.Info("=== Shipping Manager CoPilot ===")

	// Инициализация БД
	db, err := storage.New(cfg.Database.SQLitePath, logger)
	if err != nil {
		logger.Error("Failed to initialize storage", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	// Инициализация auth сервиса
	authService := auth.NewService(cfg.JWTSecret, 24*time.Hour)

	// Нотификатор (опционален)
	var notify autopilot.Notifier
	if cfg.Telegram.BotToken != "" {
		tg, err := notifier.NewTelegram(cfg.Telegram.BotToken, cfg.Telegram.ChatID, logger)
		if err != nil {
			logger.Warn("Telegram notifier unavailable", slog.Any("error", err))
		} else {
			notify = tg
		}
	}

	// Состояния аккаунтов и движок автопилота
	store := autopilot.NewStore(func(acc models.Account) (autopilot.GameAPI, error) {
		return game.NewClient(acc, logger)
	}, logger)

	locks := autopilot.NewLockManager()

	engine := autopilot.NewEngine(store, locks, db, nil, notify, autopilot.EngineConfig{
		Interval:  cfg.TickInterval(),
		ChunkSize: cfg.Autopilot.ChunkSize,
		DryRun:    cfg.Autopilot.DryRun,
	}, logger)

	// Hub собирает снапшоты через движок, движок рассылает дельты через hub
	hub := broadcast.NewHub(engine.Snapshot, logger)
	engine.SetBroadcaster(hub)

	// Поднимаем под управление все сохранённые аккаунты
	accounts, err := db.GetAccounts()
	if err != nil {
		logger.Error("Failed to load accounts", slog.Any("error", err))
		os.Exit(1)
	}
	for _, acc := range accounts {
		if acc.Disabled {
			logger.Info("Account disabled, skipping", slog.String("name", acc.Name))
			continue
		}

		st, err := store.GetOrCreate(acc)
		if err != nil {
			logger.Error("Failed to start managing account",
				slog.String("name", acc.Name),
				slog.Any("error", err))
			continue
		}

		settings, ok, err := db.GetSettings(acc.ID)
		if err != nil {
			logger.Error("Failed to load settings",
				slog.String("name", acc.Name),
				slog.Any("error", err))
			continue
		}
		if ok {
			st.SetSettings(settings)
		} else {
			logger.Warn("⚠️  No settings for account, it will idle until configured",
				slog.String("name", acc.Name))
		}
	}
	logger.Info("✅ Accounts loaded", slog.Int("count", len(accounts)))

	if err := engine.Start(); err != nil {
		logger.Error("Failed to start autopilot", slog.Any("error", err))
		os.Exit(1)
	}

	// Инициализация API handler
	apiHandler := api.New(db, authService, engine, hub, logger)

	webDir := os.Getenv("WEB_DIR")
	if webDir == "" {
		webDir = "./web/"
	}

	router := apiHandler.SetupRouter(webDir)

	srv := &http.Server{
		Addr:         cfg.Address(),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("🚀 Server starting...", slog.String("address", cfg.Address()))
		logger.Info(fmt.Sprintf("📡 API available at http://%s/api", cfg.Address()))
		logger.Info(fmt.Sprintf("🏥 Health check at http://%s/health", cfg.Address()))

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Server failed to start", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("🛑 Shutting down server...")

	engine.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", slog.Any("error", err))
	}

	logger.Info("✅ Server stopped")
}

// multiHandler отправляет логи в несколько handlers одновременно
type multiHandler struct {
	handlers []slog.Handler
}

func (m *multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range m.handlers {
		if h.Enabled(ctx, level) {
			return true
		}
	}

	return false
}

func (m *multiHandler) Handle(ctx context.Context, record slog.Record) error {
	for _, h := range m.handlers {
		if err := h.Handle(ctx, record); err != nil {
			return err
		}
	}

	return nil
}

func (m *multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	handlers := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		handlers[i] = h.WithAttrs(attrs)
	}

	return &multiHandler{handlers: handlers}
}

func (m *multiHandler) WithGroup(name string) slog.Handler {
	handlers := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		handlers[i] = h.WithGroup(name)
	}

	return &multiHandler{handlers: handlers}
}
