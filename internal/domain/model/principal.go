package model

import "time"

// Principal — участник, известный Record Module.
// Регистрируется из claims JWT при первом обращении.
type Principal struct {
	// PrincipalID — стабильный идентификатор (sub из JWT)
	PrincipalID string
	// Username — имя пользователя (preferred_username), опционально
	Username string
	// WalletAddress — адрес кошелька в нижнем регистре, опционально
	WalletAddress string
	// DisplayName — отображаемое имя
	DisplayName string
	// CreatedAt — время первой регистрации
	CreatedAt time.Time
	// UpdatedAt — время последнего обновления
	UpdatedAt time.Time
}
