package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config содержит конфигурацию приложения
type Config struct {
	Server struct {
		Host      string `yaml:"host"`
		Port      int    `yaml:"port"`
		DebugMode bool   `yaml:"debug_mode"`
	} `yaml:"server"`
	Database struct {
		SQLitePath string `yaml:"sqlite_path"`
	} `yaml:"database"`
	Autopilot struct {
		TickSeconds int  `yaml:"tick_seconds"`
		ChunkSize   int  `yaml:"chunk_size"`
		DryRun      bool `yaml:"dry_run"`
	} `yaml:"autopilot"`
	Telegram struct {
		BotToken string `yaml:"bot_token"`
		ChatID   int64  `yaml:"chat_id"`
	} `yaml:"telegram"`
	JWTSecret string `yaml:"jwt_secret"`
	LogLevel  string `yaml:"log_level"`
	LogFile   string `yaml:"log_file"`
}

// TickInterval возвращает период тика автопилота
func (c *Config) TickInterval() time.Duration {
	return time.Duration(c.Autopilot.TickSeconds) * time.Second
}

// Address возвращает адрес HTTP сервера
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// Load читает YAML конфиг, применяет переменные окружения и значения по умолчанию
func Load(path string, logger *slog.Logger) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Переменные окружения важнее файла
	if v := os.Getenv("HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("DB_PATH"); v != "" {
		cfg.Database.SQLitePath = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		cfg.JWTSecret = v
	}
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Telegram.BotToken = v
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Telegram.ChatID = id
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("DEBUG_MODE"); v != "" {
		cfg.Server.DebugMode = v == "true"
	}

	// DRY_RUN управляется только окружением: по умолчанию включён,
	// реальные мутации требуют явного DRY_RUN=false
	if os.Getenv("DRY_RUN") == "false" {
		cfg.Autopilot.DryRun = false

		logger.Warn("⚠️  DRY_RUN disabled - REAL GAME ACTIONS WILL BE EXECUTED!")
	} else {
		cfg.Autopilot.DryRun = true

		logger.Info("🔍 DRY_RUN enabled - only logging, no real game actions")
	}

	// Значения по умолчанию
	if cfg.Server.Host == "" {
		cfg.Server.Host = "127.0.0.1"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8787
	}
	if cfg.Database.SQLitePath == "" {
		cfg.Database.SQLitePath = "data/copilot.db"
	}
	if cfg.Autopilot.TickSeconds <= 0 {
		cfg.Autopilot.TickSeconds = 60
	}
	if cfg.Autopilot.ChunkSize <= 0 {
		cfg.Autopilot.ChunkSize = 20
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.LogFile == "" {
		cfg.LogFile = "copilot.log"
	}
	if cfg.JWTSecret == "" {
		cfg.JWTSecret = "default-secret-change-me-in-production"

		logger.Warn("⚠️  JWT_SECRET not set, using default (insecure!)")
	}

	if cfg.Telegram.BotToken == "" {
		logger.Info("Telegram notifications disabled: no bot token")
	}

	return cfg, nil
}
