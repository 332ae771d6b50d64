package postgres

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/advisoria/auth-service/internal/models"
	"github.com/advisoria/auth-service/internal/storage"
)

// Интеграционные тесты пакета postgres (репозиторий user.go):
// - поднимают реальный PostgreSQL через testcontainers-go (образ postgres:16-alpine);
// - миграции накатывает сам New (goose, встроенный FS), отдельный шаг не нужен;
// - проверяют happy-path, уникальность email (CITEXT) и id, OTP-поля,
//   условный сброс пароля и ошибки контекста.
//
// Запуск локально:
//   GO_TEST_INTEGRATION=1 go test ./internal/storage/postgres -v -race -count=1

// startPostgres — временный экземпляр PostgreSQL + инициализированное хранилище.
// Если переменная окружения GO_TEST_INTEGRATION не установлена — тест пропускается.
func startPostgres(t *testing.T) (*Storage, func()) {
	t.Helper()
	if os.Getenv("GO_TEST_INTEGRATION") == "" {
		t.Skip("integration tests are disabled (set GO_TEST_INTEGRATION=1)")
	}

	ctx := context.Background()
	req := tc.ContainerRequest{
		Image:        "postgres:16-alpine",
		Env:          map[string]string{"POSTGRES_USER": "user", "POSTGRES_PASSWORD": "pass", "POSTGRES_DB": "db"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
	}
	c, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{ContainerRequest: req, Started: true})
	require.NoError(t, err)

	host, _ := c.Host(ctx)
	port, _ := c.MappedPort(ctx, "5432/tcp")
	dsn := fmt.Sprintf("postgres://user:pass@%s:%s/db?sslmode=disable", host, port.Port())

	st, err := New(ctx, dsn)
	require.NoError(t, err)

	cleanup := func() {
		st.Close()
		_ = c.Terminate(context.Background())
	}
	return st, cleanup
}

func newTestUser(email string) *models.User {
	now := time.Now().UTC()
	return &models.User{
		ID:           uuid.New(),
		Name:         "Ivan",
		Email:        email,
		IsActive:     true,
		PasswordHash: "hash",
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// TestIntegration_SaveUser_And_GetByEmail_And_ByID_OK — happy-path:
// сохранение и поиск по email (CITEXT, регистронезависимо) и по ID.
func TestIntegration_SaveUser_And_GetByEmail_And_ByID_OK(t *testing.T) {
	st, cleanup := startPostgres(t)
	defer cleanup()

	u := newTestUser("User@Example.Com")
	require.NoError(t, st.SaveUser(context.Background(), u))

	gotByEmail, err := st.UserByEmail(context.Background(), strings.ToLower(u.Email))
	require.NoError(t, err)
	require.Equal(t, u.ID, gotByEmail.ID)
	require.Equal(t, u.Name, gotByEmail.Name)
	require.True(t, gotByEmail.IsActive)
	require.Empty(t, gotByEmail.OTPCode)
	require.WithinDuration(t, u.CreatedAt, gotByEmail.CreatedAt, time.Second)
	require.WithinDuration(t, u.UpdatedAt, gotByEmail.UpdatedAt, time.Second)

	gotByID, err := st.UserByID(context.Background(), u.ID)
	require.NoError(t, err)
	require.Equal(t, u.ID, gotByID.ID)
}

// TestIntegration_SaveUser_UniqueEmail_CaseInsensitive_Violation — повторная
// регистрация с другим регистром того же email даёт ErrAlreadyExists.
func TestIntegration_SaveUser_UniqueEmail_CaseInsensitive_Violation(t *testing.T) {
	st, cleanup := startPostgres(t)
	defer cleanup()

	u := newTestUser("dup@example.com")
	require.NoError(t, st.SaveUser(context.Background(), u))

	dup := newTestUser("DUP@EXAMPLE.COM")
	err := st.SaveUser(context.Background(), dup)
	require.Error(t, err)
	require.ErrorIs(t, err, storage.ErrAlreadyExists)
}

// TestIntegration_SetOTP_And_ResetPasswordWithOTP_Flow — полный цикл сброса:
// выдача кода, условный UPDATE при верном коде, отказ при повторном применении.
func TestIntegration_SetOTP_And_ResetPasswordWithOTP_Flow(t *testing.T) {
	st, cleanup := startPostgres(t)
	defer cleanup()

	ctx := context.Background()
	u := newTestUser("reset@example.com")
	require.NoError(t, st.SaveUser(ctx, u))

	now := time.Now().UTC()
	require.NoError(t, st.SetOTP(ctx, u.ID, "123456", now.Add(10*time.Minute)))

	got, err := st.UserByID(ctx, u.ID)
	require.NoError(t, err)
	require.Equal(t, "123456", got.OTPCode)
	require.WithinDuration(t, now.Add(10*time.Minute), got.OTPExpiresAt, time.Second)

	// Неверный код не проходит.
	ok, err := st.ResetPasswordWithOTP(ctx, u.ID, "654321", now, "new-hash")
	require.NoError(t, err)
	require.False(t, ok)

	// Верный код меняет пароль и очищает OTP-поля.
	ok, err = st.ResetPasswordWithOTP(ctx, u.ID, "123456", now, "new-hash")
	require.NoError(t, err)
	require.True(t, ok)

	got, err = st.UserByID(ctx, u.ID)
	require.NoError(t, err)
	require.Equal(t, "new-hash", got.PasswordHash)
	require.Empty(t, got.OTPCode)

	// Повторное применение того же кода невозможно.
	ok, err = st.ResetPasswordWithOTP(ctx, u.ID, "123456", now, "another-hash")
	require.NoError(t, err)
	require.False(t, ok)
}

// TestIntegration_ResetPasswordWithOTP_ExpiredCode — истёкший код не проходит
// условный UPDATE, даже если совпадает.
func TestIntegration_ResetPasswordWithOTP_ExpiredCode(t *testing.T) {
	st, cleanup := startPostgres(t)
	defer cleanup()

	ctx := context.Background()
	u := newTestUser("expired@example.com")
	require.NoError(t, st.SaveUser(ctx, u))

	now := time.Now().UTC()
	require.NoError(t, st.SetOTP(ctx, u.ID, "123456", now.Add(-time.Minute)))

	ok, err := st.ResetPasswordWithOTP(ctx, u.ID, "123456", now, "new-hash")
	require.NoError(t, err)
	require.False(t, ok)
}

// TestIntegration_SetOTP_Overwrite — повторная выдача кода затирает прежний:
// действует только последний.
func TestIntegration_SetOTP_Overwrite(t *testing.T) {
	st, cleanup := startPostgres(t)
	defer cleanup()

	ctx := context.Background()
	u := newTestUser("overwrite@example.com")
	require.NoError(t, st.SaveUser(ctx, u))

	now := time.Now().UTC()
	require.NoError(t, st.SetOTP(ctx, u.ID, "111111", now.Add(10*time.Minute)))
	require.NoError(t, st.SetOTP(ctx, u.ID, "222222", now.Add(10*time.Minute)))

	ok, err := st.ResetPasswordWithOTP(ctx, u.ID, "111111", now, "h")
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = st.ResetPasswordWithOTP(ctx, u.ID, "222222", now, "h")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestIntegration_UserByEmail_NotFound(t *testing.T) {
	st, cleanup := startPostgres(t)
	defer cleanup()

	_, err := st.UserByEmail(context.Background(), "ghost@example.com")
	require.Error(t, err)
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestIntegration_UserByID_NotFound(t *testing.T) {
	st, cleanup := startPostgres(t)
	defer cleanup()

	_, err := st.UserByID(context.Background(), uuid.New())
	require.Error(t, err)
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestIntegration_UserQueries_ContextCanceled(t *testing.T) {
	st, cleanup := startPostgres(t)
	defer cleanup()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := st.UserByEmail(ctx, "any@example.com")
	require.Error(t, err)

	err = st.SaveUser(ctx, newTestUser("canceled@example.com"))
	require.Error(t, err)
}
