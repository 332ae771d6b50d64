package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/advisoria/auth-service/internal/cache"
	"github.com/advisoria/auth-service/internal/models"
	"github.com/advisoria/auth-service/internal/pkg/log"
	"github.com/advisoria/auth-service/internal/storage"
)

// accessLeeway — допуск на рассинхронизацию часов при валидации access-токена.
const accessLeeway = 5 * time.Minute

// refreshTokenBytes — размер секрета refresh-токена до base64-кодирования.
const refreshTokenBytes = 64

type accessClaims struct {
	UserID string `json:"uid"`
	Email  string `json:"email"`
	Name   string `json:"name"`
	jwt.RegisteredClaims
}

// generateAccessToken генерирует access-токен.
func (s *Service) generateAccessToken(ctx context.Context, user *models.User, now time.Time) (string, error) {
	const op = "service.token.generateAccessToken"

	lg := log.From(ctx)

	claims := accessClaims{
		UserID: user.ID.String(),
		Email:  user.Email,
		Name:   user.Name,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.AccessTokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    s.cfg.Issuer,
			Subject:   user.ID.String(),
			Audience:  jwt.ClaimStrings(s.cfg.Audience),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.cfg.JWTSecret))
	if err != nil {
		lg.Error("access_token_sign_failed",
			slog.String("op", op),
			slog.String("err", err.Error()),
		)
		return "", fmt.Errorf("%s: %w", op, err)
	}

	return signed, nil
}

// validateAccessToken валидирует access-токен и возвращает идентификатор,
// email и имя пользователя из claims.
func (s *Service) validateAccessToken(tokenStr string) (uuid.UUID, string, string, error) {
	const op = "service.token.validateAccessToken"

	token, err := jwt.ParseWithClaims(tokenStr, &accessClaims{},
		func(t *jwt.Token) (interface{}, error) {
			if t.Method != jwt.SigningMethodHS256 {
				return nil, fmt.Errorf("%s: %w", op, ErrInvalidToken)
			}

			return []byte(s.cfg.JWTSecret), nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(accessLeeway),
		jwt.WithIssuer(s.cfg.Issuer),
		jwt.WithAudience(s.cfg.Audience...),
	)

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return uuid.Nil, "", "", fmt.Errorf("%s: %w", op, ErrTokenExpired)
		}

		return uuid.Nil, "", "", fmt.Errorf("%s: %w", op, ErrInvalidToken)
	}

	claims, ok := token.Claims.(*accessClaims)
	if !ok || !token.Valid {
		return uuid.Nil, "", "", fmt.Errorf("%s: %w", op, ErrInvalidToken)
	}

	uid, err := uuid.Parse(claims.UserID)
	if err != nil {
		return uuid.Nil, "", "", fmt.Errorf("%s: %w", op, ErrInvalidToken)
	}

	return uid, claims.Email, claims.Name, nil
}

// hashRefreshToken — sha256 от секрета в base64url; в таком виде токен хранится в БД.
func hashRefreshToken(plain string) string {
	sum := sha256.Sum256([]byte(plain))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// generateRefreshToken создает новый refresh-токен.
func (s *Service) generateRefreshToken(ctx context.Context, userID uuid.UUID) (string, error) {
	const (
		op          = "service.token.generateRefreshToken"
		maxAttempts = 5
	)

	lg := log.From(ctx)

	for attempt := 0; attempt < maxAttempts; attempt++ {
		b := make([]byte, refreshTokenBytes)
		if _, err := rand.Read(b); err != nil {
			lg.Error("refresh_rand_failed",
				slog.String("op", op),
				slog.String("err", err.Error()),
			)
			return "", fmt.Errorf("%s: %w", op, err)
		}
		plain := base64.RawURLEncoding.EncodeToString(b)
		hash := hashRefreshToken(plain)

		now := time.Now().UTC()
		token := &models.RefreshToken{
			RefreshTokenHash: hash,
			UserID:           userID,
			CreatedAt:        now,
			ExpiresAt:        now.Add(s.cfg.RefreshTokenTTL),
			Revoked:          false,
		}

		if err := s.storage.SaveRefreshToken(ctx, token); err != nil {
			if errors.Is(err, storage.ErrAlreadyExists) {
				// Редкая коллизия — пробуем сгенерировать заново.
				continue
			}

			lg.Error("save_refresh_token_failed",
				slog.String("op", op),
				slog.String("err", err.Error()),
			)
			return "", fmt.Errorf("%s: %w", op, err)
		}

		s.cacheRefreshToken(ctx, hash, token)

		return plain, nil
	}

	lg.Error("refresh_collision_exceeded",
		slog.String("op", op),
	)

	return "", fmt.Errorf("%s: %w", op, ErrRefreshTokenCollision)
}

// validateRefreshToken валидирует refresh-токен.
// Сначала пробует кэш (если сконфигурирован), при промахе или ошибке кэша
// идёт в БД. Отозванные и истёкшие токены неотличимы для клиента от
// отсутствующих — различие остаётся только в логах.
func (s *Service) validateRefreshToken(ctx context.Context, plain string) (*models.RefreshToken, error) {
	const op = "service.token.validateRefreshToken"

	lg := log.From(ctx)
	hash := hashRefreshToken(plain)
	now := time.Now().UTC()

	if token, ok := s.refreshFromCache(ctx, hash); ok {
		return s.checkRefreshState(ctx, op, token, now)
	}

	token, err := s.storage.RefreshTokenByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			lg.Warn("refresh_lookup_not_found",
				slog.String("op", op),
			)
			return nil, fmt.Errorf("%s: %w", op, ErrInvalidToken)
		}

		lg.Error("refresh_lookup_failed",
			slog.String("op", op),
			slog.String("err", err.Error()),
		)
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s.cacheRefreshToken(ctx, hash, token)

	return s.checkRefreshState(ctx, op, token, now)
}

// checkRefreshState — единая проверка отзыва/срока для найденного токена.
func (s *Service) checkRefreshState(ctx context.Context, op string, token *models.RefreshToken, now time.Time) (*models.RefreshToken, error) {
	lg := log.From(ctx)

	if token.Revoked {
		lg.Warn("refresh_revoked",
			slog.String("op", op),
			slog.String("user_id", token.UserID.String()),
		)
		return nil, fmt.Errorf("%s: %w", op, ErrTokenRevoked)
	}

	if now.After(token.ExpiresAt) {
		lg.Warn("refresh_expired",
			slog.String("op", op),
			slog.String("user_id", token.UserID.String()),
		)
		return nil, fmt.Errorf("%s: %w", op, ErrTokenExpired)
	}

	return token, nil
}

// refreshFromCache пробует достать токен из кэша.
// Учитывает «эпоху отзыва»: токен, выпущенный не позже последнего revoke-all,
// считается отозванным, даже если его ключ ещё не обновлён.
func (s *Service) refreshFromCache(ctx context.Context, hash string) (*models.RefreshToken, bool) {
	if s.rcache == nil {
		return nil, false
	}

	lg := log.From(ctx)

	entry, ok, err := s.rcache.Get(ctx, hash)
	if err != nil || !ok {
		if err != nil {
			lg.Warn("refresh_cache_get_failed", slog.String("err", err.Error()))
		}
		return nil, false
	}

	revoked := entry.Revoked
	if !revoked {
		if at, found, err := s.rcache.UserRevokedAt(ctx, entry.UserID); err != nil {
			lg.Warn("refresh_cache_epoch_failed", slog.String("err", err.Error()))
			return nil, false
		} else if found && !entry.IssuedAt.After(at) {
			revoked = true
		}
	}

	return &models.RefreshToken{
		RefreshTokenHash: hash,
		UserID:           entry.UserID,
		CreatedAt:        entry.IssuedAt,
		ExpiresAt:        entry.ExpiresAt,
		Revoked:          revoked,
	}, true
}

// cacheRefreshToken кладёт токен в кэш (best effort: ошибка только логируется).
func (s *Service) cacheRefreshToken(ctx context.Context, hash string, token *models.RefreshToken) {
	if s.rcache == nil {
		return
	}

	ttl := time.Until(token.ExpiresAt)
	if ttl <= 0 {
		return
	}

	entry := &cache.RefreshEntry{
		UserID:    token.UserID,
		Revoked:   token.Revoked,
		IssuedAt:  token.CreatedAt,
		ExpiresAt: token.ExpiresAt,
	}

	if err := s.rcache.Set(ctx, hash, entry, ttl); err != nil {
		log.From(ctx).Warn("refresh_cache_set_failed", slog.String("err", err.Error()))
	}
}
