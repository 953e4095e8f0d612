package autopilot

import "sync"

// Категории взаимоисключающих мутаций игрового состояния.
// Игровой API не имеет транзакций, поэтому блокировки - единственная защита
// от двойной отправки одной и той же мутации.
const (
	LockDepart  = "depart"
	LockFuel    = "fuelPurchase"
	LockCO2     = "allowancePurchase"
	LockRepair  = "repair"
	LockDrydock = "drydock"
	LockBulkBuy = "bulkBuy"
)

type lockKey struct {
	accountID int
	category  string
}

// LockManager выдаёт advisory-блокировки по паре (аккаунт, категория)
type LockManager struct {
	mu   sync.Mutex
	held map[lockKey]bool
}

// NewLockManager создает менеджер блокировок
func NewLockManager() *LockManager {
	return &LockManager{held: make(map[lockKey]bool)}
}

// TryAcquire пытается взять блокировку без ожидания.
// false означает "конфликт, пропусти", а не ошибку.
func (m *LockManager) TryAcquire(accountID int, category string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := lockKey{accountID, category}
	if m.held[key] {
		return false
	}
	m.held[key] = true

	return true
}

// Release освобождает блокировку; повторный вызов безопасен
func (m *LockManager) Release(accountID int, category string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.held, lockKey{accountID, category})
}

// Held сообщает, занята ли блокировка
func (m *LockManager) Held(accountID int, category string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.held[lockKey{accountID, category}]
}

// With выполняет fn под блокировкой. Возвращает (false, nil) при конфликте.
// Release гарантирован на любом пути выхода, включая панику внутри fn.
func (m *LockManager) With(accountID int, category string, fn func() error) (bool, error) {
	if !m.TryAcquire(accountID, category) {
		return false, nil
	}
	defer m.Release(accountID, category)

	return true, fn()
}
