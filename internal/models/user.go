package models

import (
	"time"

	"github.com/google/uuid"
)

// User - учётная запись пользователя сайта/бэк-офиса.
//
// OTPCode/OTPExpiresAt — ожидающий одноразовый код сброса пароля
// (пустые, если активного кода нет). Учётные записи не удаляются
// физически: деактивация только через IsActive.
type User struct {
	ID           uuid.UUID
	Name         string
	Email        string
	IsActive     bool
	PasswordHash string
	OTPCode      string
	OTPExpiresAt time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
