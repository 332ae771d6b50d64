package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/advisoria/auth-service/internal/service"
	"github.com/advisoria/auth-service/internal/transport/http/httperr"
)

// Principal — аутентифицированный пользователь запроса (данные из access-токена).
type Principal struct {
	UserID uuid.UUID
	Email  string
	Name   string
}

type principalKey struct{}

// TokenValidator проверяет access-токен и возвращает данные пользователя.
type TokenValidator interface {
	ValidateToken(ctx context.Context, accessToken string) (uuid.UUID, string, string, error)
}

// Authenticate требует действительный access-токен: сначала ищет его
// в Authorization: Bearer, затем — в HTTP-only cookie (легаси-путь).
// Без токена или с недействительным токеном запрос завершается 401.
func Authenticate(v TokenValidator, cookieName string) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" && cookieName != "" {
				if c, err := r.Cookie(cookieName); err == nil {
					token = c.Value
				}
			}

			if token == "" {
				httperr.WriteError(w, r, service.ErrInvalidToken)
				return
			}

			uid, email, name, err := v.ValidateToken(r.Context(), token)
			if err != nil {
				httperr.WriteError(w, r, err)
				return
			}

			ctx := context.WithValue(r.Context(), principalKey{}, Principal{
				UserID: uid,
				Email:  email,
				Name:   name,
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// PrincipalFrom достаёт аутентифицированного пользователя из контекста.
func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// bearerToken извлекает "сырой" токен из Authorization.
func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if strings.HasPrefix(auth, prefix) && len(auth) > len(prefix) {
		return strings.TrimSpace(auth[len(prefix):])
	}

	return ""
}
