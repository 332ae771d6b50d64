package service

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/advisoria/auth-service/internal/models"
	"github.com/advisoria/auth-service/internal/pkg/log"
	"github.com/advisoria/auth-service/internal/pkg/redact"
	"github.com/advisoria/auth-service/internal/storage"
)

// otpDigits — длина одноразового кода сброса пароля.
const otpDigits = 6

// RequestPasswordReset запускает сценарий «забыл пароль»: генерирует
// одноразовый код, сохраняет его на записи пользователя (старый код
// затирается) и отправляет письмом.
//
// Возвращаемое время — момент истечения кода. Для неизвестного или
// деактивированного e-mail ответ неотличим от успешного (письмо просто
// не отправляется): существование учётной записи не раскрывается.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) (time.Time, error) {
	const op = "service.otp.RequestPasswordReset"

	lg := log.From(ctx)

	normEmail, err := validateEmail(email)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s: %w", op, ErrInvalidEmail)
	}

	now := time.Now().UTC()
	expiresAt := now.Add(s.otpCfg.TTL)

	user, err := s.storage.UserByEmail(ctx, normEmail)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			lg.Info("password_reset_unknown_email",
				slog.String("op", op),
				slog.String("email", redact.Email(normEmail)),
			)
			return expiresAt, nil
		}

		return time.Time{}, fmt.Errorf("%s: %w", op, err)
	}

	if !user.IsActive {
		lg.Info("password_reset_inactive_user",
			slog.String("op", op),
			slog.String("user_id", user.ID.String()),
		)
		return expiresAt, nil
	}

	code, err := generateOTPCode()
	if err != nil {
		lg.Error("otp_generate_failed",
			slog.String("op", op),
			slog.String("err", err.Error()),
		)
		return time.Time{}, fmt.Errorf("%s: %w", op, err)
	}

	if err := s.storage.SetOTP(ctx, user.ID, code, expiresAt); err != nil {
		return time.Time{}, fmt.Errorf("%s: %w", op, err)
	}

	if err := s.mailer.SendOTP(ctx, user.Email, user.Name, code, expiresAt); err != nil {
		lg.Error("otp_mail_failed",
			slog.String("op", op),
			slog.String("user_id", user.ID.String()),
			slog.String("err", err.Error()),
		)
		return time.Time{}, fmt.Errorf("%s: %w", op, ErrMailUnavailable)
	}

	lg.Info("otp_issued",
		slog.String("op", op),
		slog.String("user_id", user.ID.String()),
		slog.Time("expires_at", expiresAt),
	)

	return expiresAt, nil
}

// VerifyOTP проверяет код без его потребления: UI может валидировать код
// до того, как спросит новый пароль. Неверный код, истёкший код и
// неизвестный e-mail неразличимы (ErrInvalidOTP).
func (s *Service) VerifyOTP(ctx context.Context, email, code string) error {
	const op = "service.otp.VerifyOTP"

	normEmail, err := validateEmail(email)
	if err != nil {
		return fmt.Errorf("%s: %w", op, ErrInvalidOTP)
	}

	user, err := s.storage.UserByEmail(ctx, normEmail)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("%s: %w", op, ErrInvalidOTP)
		}

		return fmt.Errorf("%s: %w", op, err)
	}

	if !otpValid(user, code, time.Now().UTC()) {
		return fmt.Errorf("%s: %w", op, ErrInvalidOTP)
	}

	return nil
}

// ResetPassword завершает сценарий сброса: при действительном коде меняет
// пароль, очищает OTP-поля и отзывает все refresh-токены пользователя
// (закрывает остальные сессии).
func (s *Service) ResetPassword(ctx context.Context, email, code, newPassword string) error {
	const op = "service.otp.ResetPassword"

	normEmail, err := validateEmail(email)
	if err != nil {
		return fmt.Errorf("%s: %w", op, ErrInvalidOTP)
	}

	if err := validatePassword(newPassword); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	user, err := s.storage.UserByEmail(ctx, normEmail)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("%s: %w", op, ErrInvalidOTP)
		}

		return fmt.Errorf("%s: %w", op, err)
	}

	hashedPassword, err := hashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	// Условие «код совпал и не истёк» проверяется в одном UPDATE:
	// параллельная выдача нового кода не даст применить устаревший.
	ok, err := s.storage.ResetPasswordWithOTP(ctx, user.ID, code, time.Now().UTC(), hashedPassword)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if !ok {
		return fmt.Errorf("%s: %w", op, ErrInvalidOTP)
	}

	if _, err := s.RevokeAllTokens(ctx, user.ID); err != nil {
		// Пароль уже сменён; неудачный отзыв сессий не откатывает сброс.
		log.From(ctx).Error("reset_revoke_all_failed",
			slog.String("op", op),
			slog.String("user_id", user.ID.String()),
			slog.String("err", err.Error()),
		)
	}

	log.From(ctx).Info("password_reset_done",
		slog.String("op", op),
		slog.String("user_id", user.ID.String()),
	)

	return nil
}

// otpValid — код действителен строго до истечения: в момент expiry и позже
// проверка уже не проходит.
func otpValid(user *models.User, code string, now time.Time) bool {
	if user.OTPCode == "" || code == "" {
		return false
	}

	if !now.Before(user.OTPExpiresAt) {
		return false
	}

	return subtle.ConstantTimeCompare([]byte(user.OTPCode), []byte(code)) == 1
}

// generateOTPCode генерирует криптографически стойкий числовой код
// фиксированной длины (с ведущими нулями).
func generateOTPCode() (string, error) {
	limit := big.NewInt(1)
	for i := 0; i < otpDigits; i++ {
		limit.Mul(limit, big.NewInt(10))
	}

	n, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("%0*d", otpDigits, n), nil
}
