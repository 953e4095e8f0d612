package models

// Account - игровой аккаунт, которым управляет автопилот
type Account struct {
	ID        int    `json:"id"`
	Name      string `json:"name"`
	GameID    string `json:"gameId"`    // id пользователя в игре
	Session   string `json:"-"`         // сессионная cookie, в ответы API не попадает
	UserAgent string `json:"userAgent"` // User Agent браузера, из которого снята сессия
	Proxy     string `json:"proxy,omitempty"`
	Disabled  bool   `json:"disabled"`
}
