package models

import "time"

// Статусы записи журнала действий
const (
	AuditSuccess = "SUCCESS"
	AuditWarning = "WARNING"
	AuditError   = "ERROR"
)

// Источники действия
const (
	SourceAutomated = "AUTOMATED"
	SourceManual    = "MANUAL"
)

// AuditEntry - одна запись журнала действий; после создания не изменяется
type AuditEntry struct {
	ID        string    `json:"id"`
	AccountID int       `json:"accountId"`
	Category  string    `json:"category"` // категория блокировки либо имя пилота
	Action    string    `json:"action"`
	Summary   string    `json:"summary"`
	Details   string    `json:"details,omitempty"`
	Status    string    `json:"status"`
	Source    string    `json:"source"`
	CreatedAt time.Time `json:"createdAt"`
}
