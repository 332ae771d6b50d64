package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/advisoria/auth-service/internal/models"
	"github.com/advisoria/auth-service/internal/storage"
)

// SaveUser создает нового пользователя в БД.
func (s *Storage) SaveUser(ctx context.Context, user *models.User) error {
	const op = "storage.postgres.SaveUser"

	query := `
		INSERT INTO users(id, name, email, is_active, password_hash, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := s.db.Exec(ctx, query,
		user.ID,
		user.Name,
		user.Email,
		user.IsActive,
		user.PasswordHash,
		user.CreatedAt,
		user.UpdatedAt,
	)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return fmt.Errorf("%s: %w", op, storage.ErrAlreadyExists)
		}

		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// UserByEmail находит пользователя по email.
func (s *Storage) UserByEmail(ctx context.Context, email string) (*models.User, error) {
	const op = "storage.postgres.UserByEmail"

	query := `
		SELECT id, name, email, is_active, password_hash,
		       COALESCE(otp_code, ''), COALESCE(otp_expires_at, 'epoch'::timestamptz),
		       created_at, updated_at
		FROM users
		WHERE email = $1
	`

	user, err := s.scanUser(ctx, query, email)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return user, nil
}

// UserByID находит пользователя по ID.
func (s *Storage) UserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	const op = "storage.postgres.UserByID"

	query := `
		SELECT id, name, email, is_active, password_hash,
		       COALESCE(otp_code, ''), COALESCE(otp_expires_at, 'epoch'::timestamptz),
		       created_at, updated_at
		FROM users
		WHERE id = $1
	`

	user, err := s.scanUser(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return user, nil
}

// SetOTP перезаписывает ожидающий OTP-код пользователя.
func (s *Storage) SetOTP(ctx context.Context, userID uuid.UUID, code string, expiresAt time.Time) error {
	const op = "storage.postgres.SetOTP"

	query := `
		UPDATE users
		SET otp_code = $2, otp_expires_at = $3, updated_at = now()
		WHERE id = $1
	`

	cmdTag, err := s.db.Exec(ctx, query, userID, code, expiresAt)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if cmdTag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}

	return nil
}

// ResetPasswordWithOTP атомарно меняет пароль и очищает OTP-поля.
// Условие (код совпал и не истёк) проверяется в одном UPDATE,
// чтобы гонка с повторной выдачей кода не позволила применить устаревший код.
func (s *Storage) ResetPasswordWithOTP(ctx context.Context, userID uuid.UUID, code string, now time.Time, passwordHash string) (bool, error) {
	const op = "storage.postgres.ResetPasswordWithOTP"

	const upd = `
		UPDATE users
		SET password_hash = $4, otp_code = NULL, otp_expires_at = NULL, updated_at = now()
		WHERE id = $1 AND otp_code = $2 AND otp_expires_at > $3
		RETURNING id
	`

	var id uuid.UUID
	err := s.db.QueryRow(ctx, upd, userID, code, now, passwordHash).Scan(&id)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}

	return false, fmt.Errorf("%s: %w", op, err)
}

// scanUser — общий скан строки users.
func (s *Storage) scanUser(ctx context.Context, query string, arg any) (*models.User, error) {
	var user models.User
	err := s.db.QueryRow(ctx, query, arg).Scan(
		&user.ID,
		&user.Name,
		&user.Email,
		&user.IsActive,
		&user.PasswordHash,
		&user.OTPCode,
		&user.OTPExpiresAt,
		&user.CreatedAt,
		&user.UpdatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, storage.ErrNotFound
		}

		return nil, err
	}

	return &user, nil
}
