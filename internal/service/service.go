// service содержит бизнес-логику сервиса аутентификации:
// регистрацию/вход пользователей, выпуск/проверку/отзыв токенов
// и OTP-сценарий сброса пароля.
//
// Основные аспекты:
//   - Пакет не хранит состояние запроса внутри Service; экземпляр Service
//     безопасен для конкурентного использования из разных горутин при условии,
//     что переданные зависимости (storage.Storage, mail.Sender) потокобезопасны.
//   - Ошибки возвращаются наружу и маппятся HTTP-слоем на коды ответа
//     (см. комментарии к переменным ошибок ниже).
package service

import (
	"errors"

	"github.com/advisoria/auth-service/internal/cache"
	"github.com/advisoria/auth-service/internal/config"
	"github.com/advisoria/auth-service/internal/mail"
	"github.com/advisoria/auth-service/internal/storage"
)

var (
	// ErrInvalidCredentials — пара логин/пароль неверна, пользователь не найден
	// или учётная запись деактивирована. Транспорт: 401 с общим сообщением,
	// без уточнения, какая именно проверка не прошла.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrInvalidToken — токен (access/refresh) некорректен по формату/подписи
	// или отсутствует в хранилище. Транспорт: 401.
	ErrInvalidToken = errors.New("invalid token")

	// ErrTokenExpired — срок действия токена истёк. Транспорт: 401.
	ErrTokenExpired = errors.New("token expired")

	// ErrTokenRevoked — токен отозван (logout/rotation/reset) и недействителен
	// независимо от срока. Транспорт: 401.
	ErrTokenRevoked = errors.New("token revoked")

	// ErrEmailTaken — e-mail уже занят другим пользователем. Транспорт: 409.
	ErrEmailTaken = errors.New("email already taken")

	// ErrRefreshTokenCollision — исчерпаны попытки сгенерировать уникальный refresh-токен
	// (редкий случай коллизий при сохранении хэша в БД после нескольких ретраев).
	// Транспорт: 500.
	ErrRefreshTokenCollision = errors.New("refresh token collision")

	// ErrInvalidEmail — e-mail имеет некорректный формат. Транспорт: 400.
	ErrInvalidEmail = errors.New("invalid email format")

	// ErrEmptyName — не указано отображаемое имя при регистрации. Транспорт: 400.
	ErrEmptyName = errors.New("name is empty")

	// ErrWeakPassword — пароль не удовлетворяет политикам сложности. Транспорт: 400.
	ErrWeakPassword = errors.New("password is too weak")

	// ErrEmptyPassword — пароль пустой. Транспорт: 400.
	ErrEmptyPassword = errors.New("password is empty")

	// ErrInvalidOTP — код сброса неверен, истёк или не запрашивался.
	// Единая ошибка для всех трёх случаев: ответ не раскрывает,
	// зарегистрирован ли e-mail. Транспорт: 400.
	ErrInvalidOTP = errors.New("invalid or expired otp")

	// ErrMailUnavailable — не удалось отправить письмо (SMTP недоступен).
	// Транспорт: 503 с предложением повторить позже.
	ErrMailUnavailable = errors.New("mail delivery unavailable")
)

// Service описывает бизнес-логику сервиса аутентификации.
type Service struct {
	storage storage.Storage
	cfg     config.AuthConfig
	otpCfg  config.OTPConfig
	mailer  mail.Sender
	rcache  cache.RefreshCache // может быть nil, если кэш не сконфигурирован
}

// New создаёт новый экземпляр Service.
func New(storage storage.Storage, cfg config.AuthConfig, otpCfg config.OTPConfig, mailer mail.Sender) *Service {
	return &Service{
		storage: storage,
		cfg:     cfg,
		otpCfg:  otpCfg,
		mailer:  mailer,
	}
}

// SetRefreshCache устанавливает кэш refresh-токенов (опционально).
func (s *Service) SetRefreshCache(c cache.RefreshCache) {
	s.rcache = c
}
