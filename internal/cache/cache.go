// cache — опциональный Redis-кэш refresh-токенов.
// Снимает с БД горячие чтения при валидации refresh-токена;
// отзыв токена синхронно помечается и в кэше.
package cache

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RefreshEntry — данные, которые храним в Redis по хэшу refresh-токена.
type RefreshEntry struct {
	UserID    uuid.UUID
	Revoked   bool
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// RefreshCache — минимальный контракт кэша refresh-токенов.
//
// Помимо записей по хэшу хранится «эпоха отзыва» пользователя:
// момент последнего revoke-all. Запись, выпущенная не позже эпохи,
// считается отозванной, даже если её ключ в кэше ещё не обновлён.
type RefreshCache interface {
	// Get возвращает запись и признак её наличия в кэше.
	Get(ctx context.Context, hash string) (*RefreshEntry, bool, error)
	// Set сохраняет запись с TTL (обычно ExpiresAt-now).
	Set(ctx context.Context, hash string, e *RefreshEntry, ttl time.Duration) error
	// MarkRevoked помечает ключ revoked=true, сохраняя остаточный TTL.
	MarkRevoked(ctx context.Context, hash string) error
	// MarkUserRevoked запоминает эпоху отзыва всех токенов пользователя.
	MarkUserRevoked(ctx context.Context, userID uuid.UUID, at time.Time, ttl time.Duration) error
	// UserRevokedAt возвращает эпоху отзыва пользователя, если она есть.
	UserRevokedAt(ctx context.Context, userID uuid.UUID) (time.Time, bool, error)
	// Close закрывает клиент Redis.
	Close() error
}

type redisCache struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisCache создаёт клиент Redis из URL (например, redis://:pass@host:6379/0).
// Если prefix пустой — используется "auth:rt:".
func NewRedisCache(redisURL, prefix string) (RefreshCache, error) {
	if prefix == "" {
		prefix = "auth:rt:"
	}

	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	rdb := redis.NewClient(opt)

	// Fail-fast на старте.
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, err
	}

	return &redisCache{rdb: rdb, prefix: prefix}, nil
}

func (c *redisCache) key(hash string) string { return c.prefix + hash }

func (c *redisCache) userKey(userID uuid.UUID) string {
	return c.prefix + "all:" + userID.String()
}

// encodeTime/decodeTime сериализуют метки времени с наносекундной точностью.
// Секундной точности недостаточно: эпоха revoke-all и токен, выпущенный
// сразу после неё (сброс пароля → немедленный login), попадают в одну
// секунду, и порядок событий теряется.
func encodeTime(t time.Time) string {
	return strconv.FormatInt(t.UnixNano(), 10)
}

func decodeTime(s string) (time.Time, error) {
	ns, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, err
	}

	return time.Unix(0, ns).UTC(), nil
}

// Храним как Redis Hash с полями: uid, rev (0/1), iat (unixnano), exp (unixnano).
func encodeEntry(e *RefreshEntry) map[string]string {
	rev := "0"
	if e.Revoked {
		rev = "1"
	}

	return map[string]string{
		"uid": e.UserID.String(),
		"rev": rev,
		"iat": encodeTime(e.IssuedAt),
		"exp": encodeTime(e.ExpiresAt),
	}
}

func decodeEntry(m map[string]string) (*RefreshEntry, error) {
	uid, err := uuid.Parse(m["uid"])
	if err != nil {
		return nil, err
	}

	iat, err := decodeTime(m["iat"])
	if err != nil {
		return nil, err
	}

	exp, err := decodeTime(m["exp"])
	if err != nil {
		return nil, err
	}

	return &RefreshEntry{
		UserID:    uid,
		Revoked:   m["rev"] == "1",
		IssuedAt:  iat,
		ExpiresAt: exp,
	}, nil
}

func (c *redisCache) Get(ctx context.Context, hash string) (*RefreshEntry, bool, error) {
	m, err := c.rdb.HGetAll(ctx, c.key(hash)).Result()
	if err != nil {
		return nil, false, err
	}

	if len(m) == 0 {
		return nil, false, nil
	}

	e, err := decodeEntry(m)
	if err != nil {
		return nil, false, err
	}

	return e, true, nil
}

func (c *redisCache) Set(ctx context.Context, hash string, e *RefreshEntry, ttl time.Duration) error {
	kv := encodeEntry(e)

	pipe := c.rdb.TxPipeline()
	pipe.HSet(ctx, c.key(hash), kv)
	pipe.Expire(ctx, c.key(hash), ttl)

	_, err := pipe.Exec(ctx)
	return err
}

func (c *redisCache) MarkRevoked(ctx context.Context, hash string) error {
	return c.rdb.HSet(ctx, c.key(hash), "rev", "1").Err()
}

func (c *redisCache) MarkUserRevoked(ctx context.Context, userID uuid.UUID, at time.Time, ttl time.Duration) error {
	return c.rdb.Set(ctx, c.userKey(userID), encodeTime(at), ttl).Err()
}

func (c *redisCache) UserRevokedAt(ctx context.Context, userID uuid.UUID) (time.Time, bool, error) {
	v, err := c.rdb.Get(ctx, c.userKey(userID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return time.Time{}, false, nil
		}

		return time.Time{}, false, err
	}

	at, err := decodeTime(v)
	if err != nil {
		return time.Time{}, false, err
	}

	return at, true, nil
}

func (c *redisCache) Close() error { return c.rdb.Close() }
