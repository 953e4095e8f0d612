package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	_ "modernc.org/sqlite"

	"sm_copilot/internal/models"
)

// Storage управляет базой данных
type Storage struct {
	db     *sql.DB
	logger *slog.Logger
}

// New открывает базу и создает схему
func New(dbPath string, logger *slog.Logger) (*Storage, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	storage := &Storage{
		db:     db,
		logger: logger,
	}

	if err := storage.init(); err != nil {
		return nil, err
	}

	return storage, nil
}

// init инициализирует таблицы БД
func (s *Storage) init() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			username TEXT NOT NULL UNIQUE,
			password_hash TEXT NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);

		CREATE TABLE IF NOT EXISTS accounts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL UNIQUE,
			game_id TEXT NOT NULL,
			session TEXT NOT NULL,
			user_agent TEXT,
			proxy TEXT,
			disabled INTEGER DEFAULT 0,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);

		CREATE TABLE IF NOT EXISTS settings (
			account_id INTEGER PRIMARY KEY REFERENCES accounts(id),
			data TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS audit_log (
			id TEXT PRIMARY KEY,
			account_id INTEGER NOT NULL,
			category TEXT,
			action TEXT,
			summary TEXT,
			details TEXT,
			status TEXT,
			source TEXT,
			created_at DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_audit_account ON audit_log(account_id, created_at);
	`)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	s.logger.Info("✅ Database initialized")

	return nil
}

// Close закрывает базу
func (s *Storage) Close() error {
	return s.db.Close()
}

// CreateUser создает оператора; пароль уже захэширован
func (s *Storage) CreateUser(username, passwordHash string) error {
	_, err := s.db.Exec(`
		INSERT INTO users (username, password_hash) VALUES (?, ?)
	`, username, passwordHash)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}

	s.logger.Info("✅ User created", slog.String("username", username))

	return nil
}

// GetUserByUsername возвращает оператора по имени
func (s *Storage) GetUserByUsername(username string) (models.User, error) {
	var u models.User
	err := s.db.QueryRow(`
		SELECT id, username, password_hash, created_at FROM users WHERE username = ?
	`, username).Scan(&u.ID, &u.Username, &u.PasswordHash, &u.CreatedAt)
	if err != nil {
		return models.User{}, err
	}
	return u, nil
}

// AddAccount сохраняет игровой аккаунт
func (s *Storage) AddAccount(acc models.Account) (int, error) {
	res, err := s.db.Exec(`
		INSERT INTO accounts (name, game_id, session, user_agent, proxy, disabled)
		VALUES (?, ?, ?, ?, ?, ?)
	`, acc.Name, acc.GameID, acc.Session, acc.UserAgent, acc.Proxy, acc.Disabled)
	if err != nil {
		return 0, fmt.Errorf("failed to add account: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	s.logger.Info("✅ Account added",
		slog.String("name", acc.Name),
		slog.Int64("id", id))

	return int(id), nil
}

// GetAccounts возвращает все аккаунты
func (s *Storage) GetAccounts() ([]models.Account, error) {
	rows, err := s.db.Query(`
		SELECT id, name, game_id, session,
		       COALESCE(user_agent, ''), COALESCE(proxy, ''), COALESCE(disabled, 0)
		FROM accounts
		ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []models.Account
	for rows.Next() {
		var acc models.Account
		if err := rows.Scan(&acc.ID, &acc.Name, &acc.GameID, &acc.Session,
			&acc.UserAgent, &acc.Proxy, &acc.Disabled); err != nil {
			return nil, err
		}
		accounts = append(accounts, acc)
	}

	return accounts, rows.Err()
}

// GetAccount возвращает один аккаунт
func (s *Storage) GetAccount(id int) (models.Account, error) {
	var acc models.Account
	err := s.db.QueryRow(`
		SELECT id, name, game_id, session,
		       COALESCE(user_agent, ''), COALESCE(proxy, ''), COALESCE(disabled, 0)
		FROM accounts
		WHERE id = ?
	`, id).Scan(&acc.ID, &acc.Name, &acc.GameID, &acc.Session,
		&acc.UserAgent, &acc.Proxy, &acc.Disabled)
	if err != nil {
		return models.Account{}, err
	}
	return acc, nil
}

// UpdateAccountSession обновляет сессионную cookie аккаунта
func (s *Storage) UpdateAccountSession(id int, session string) error {
	_, err := s.db.Exec(`UPDATE accounts SET session = ? WHERE id = ?`, session, id)
	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}
	return nil
}

// SetAccountDisabled включает или выключает аккаунт
func (s *Storage) SetAccountDisabled(id int, disabled bool) error {
	_, err := s.db.Exec(`UPDATE accounts SET disabled = ? WHERE id = ?`, disabled, id)
	if err != nil {
		return fmt.Errorf("failed to toggle account: %w", err)
	}
	return nil
}

// GetSettings возвращает настройки автопилота аккаунта.
// false - настройки ещё не сохранялись.
func (s *Storage) GetSettings(accountID int) (models.Settings, bool, error) {
	var data string
	err := s.db.QueryRow(`SELECT data FROM settings WHERE account_id = ?`, accountID).Scan(&data)
	if err == sql.ErrNoRows {
		return models.Settings{}, false, nil
	}
	if err != nil {
		return models.Settings{}, false, err
	}

	var settings models.Settings
	if err := json.Unmarshal([]byte(data), &settings); err != nil {
		return models.Settings{}, false, fmt.Errorf("corrupt settings for account %d: %w", accountID, err)
	}

	return settings, true, nil
}

// SaveSettings сохраняет настройки автопилота аккаунта
func (s *Storage) SaveSettings(accountID int, settings models.Settings) error {
	data, err := json.Marshal(settings)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(`
		INSERT INTO settings (account_id, data) VALUES (?, ?)
		ON CONFLICT(account_id) DO UPDATE SET data = excluded.data
	`, accountID, string(data))
	if err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}

	return nil
}

// Append пишет запись журнала действий
func (s *Storage) Append(ctx context.Context, entry models.AuditEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_log (id, account_id, category, action, summary, details, status, source, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, entry.ID, entry.AccountID, entry.Category, entry.Action, entry.Summary,
		entry.Details, entry.Status, entry.Source, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

// GetAuditLog возвращает последние записи журнала аккаунта
func (s *Storage) GetAuditLog(accountID, limit int) ([]models.AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.Query(`
		SELECT id, account_id, category, action, summary, details, status, source, created_at
		FROM audit_log
		WHERE account_id = ?
		ORDER BY created_at DESC
		LIMIT ?
	`, accountID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []models.AuditEntry
	for rows.Next() {
		var e models.AuditEntry
		if err := rows.Scan(&e.ID, &e.AccountID, &e.Category, &e.Action,
			&e.Summary, &e.Details, &e.Status, &e.Source, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}

	return entries, rows.Err()
}
