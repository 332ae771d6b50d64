package handlers

import (
	"errors"
	"net/http"

	"github.com/advisoria/auth-service/internal/service"
	"github.com/advisoria/auth-service/internal/transport/http/httperr"
	"github.com/advisoria/auth-service/internal/transport/http/middleware"
	"github.com/advisoria/auth-service/internal/transport/http/models"
)

// Register обрабатывает POST /auth/register.
// Совпадение password/confirm_password — граничная проверка, до сервиса
// несовпадающие пароли не доходят.
func (h *Handlers) Register(w http.ResponseWriter, r *http.Request) {
	var in models.RegisterRequest
	if err := decodeStrict(r, &in); err != nil {
		badRequest(w, r)
		return
	}

	if in.Password != in.ConfirmPassword {
		badRequest(w, r)
		return
	}

	pair, user, err := h.Service.RegisterUser(r.Context(), in.Name, in.Email, in.Password)
	if err != nil {
		httperr.WriteError(w, r, err)
		return
	}

	h.setAccessCookie(w, pair.AccessToken, pair.AccessExpiresAt)
	writeJSON(w, http.StatusOK, models.AuthResponse{
		Message:         "registered",
		User:            models.UserFromDomain(user),
		AccessToken:     pair.AccessToken,
		RefreshToken:    pair.RefreshToken,
		AccessExpiresAt: pair.AccessExpiresAt.Unix(),
	})
}

// Login обрабатывает POST /auth/login.
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	var in models.LoginRequest
	if err := decodeStrict(r, &in); err != nil {
		badRequest(w, r)
		return
	}

	pair, user, err := h.Service.LoginUser(r.Context(), in.Email, in.Password)
	if err != nil {
		httperr.WriteError(w, r, err)
		return
	}

	h.setAccessCookie(w, pair.AccessToken, pair.AccessExpiresAt)
	writeJSON(w, http.StatusOK, models.AuthResponse{
		Message:         "logged in",
		User:            models.UserFromDomain(user),
		AccessToken:     pair.AccessToken,
		RefreshToken:    pair.RefreshToken,
		AccessExpiresAt: pair.AccessExpiresAt.Unix(),
	})
}

// RefreshToken обрабатывает POST /auth/refresh-token.
// Предъявленный refresh-токен ротируется: в ответе всегда новый.
func (h *Handlers) RefreshToken(w http.ResponseWriter, r *http.Request) {
	var in models.RefreshRequest
	if err := decodeStrict(r, &in); err != nil || in.RefreshToken == "" {
		badRequest(w, r)
		return
	}

	pair, user, err := h.Service.RefreshToken(r.Context(), in.RefreshToken)
	if err != nil {
		httperr.WriteError(w, r, err)
		return
	}

	h.setAccessCookie(w, pair.AccessToken, pair.AccessExpiresAt)
	writeJSON(w, http.StatusOK, models.AuthResponse{
		Message:         "token refreshed",
		User:            models.UserFromDomain(user),
		AccessToken:     pair.AccessToken,
		RefreshToken:    pair.RefreshToken,
		AccessExpiresAt: pair.AccessExpiresAt.Unix(),
	})
}

// Logout обрабатывает POST /auth/logout: отзывает предъявленный
// refresh-токен и сбрасывает cookie. Повторный logout того же токена
// ведёт себя как успешный (отзыв идемпотентен по эффекту).
func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) {
	var in models.LogoutRequest
	if err := decodeOptional(r, &in); err != nil {
		badRequest(w, r)
		return
	}

	if in.RefreshToken != "" {
		err := h.Service.RevokeToken(r.Context(), in.RefreshToken)
		if err != nil &&
			!errors.Is(err, service.ErrTokenRevoked) &&
			!errors.Is(err, service.ErrInvalidToken) {
			httperr.WriteError(w, r, err)
			return
		}
	}

	h.clearAccessCookie(w)
	writeJSON(w, http.StatusOK, models.LogoutResponse{Message: "logged out"})
}

// LogoutAll обрабатывает POST /auth/logout-all (требует аутентификации):
// отзывает все активные refresh-токены пользователя.
func (h *Handlers) LogoutAll(w http.ResponseWriter, r *http.Request) {
	p, ok := middleware.PrincipalFrom(r.Context())
	if !ok {
		httperr.WriteError(w, r, service.ErrInvalidToken)
		return
	}

	n, err := h.Service.RevokeAllTokens(r.Context(), p.UserID)
	if err != nil {
		httperr.WriteError(w, r, err)
		return
	}

	h.clearAccessCookie(w)
	writeJSON(w, http.StatusOK, models.LogoutAllResponse{
		Message:         "logged out everywhere",
		RevokedSessions: n,
	})
}

// Me обрабатывает GET /auth/me (требует аутентификации).
func (h *Handlers) Me(w http.ResponseWriter, r *http.Request) {
	p, ok := middleware.PrincipalFrom(r.Context())
	if !ok {
		httperr.WriteError(w, r, service.ErrInvalidToken)
		return
	}

	user, err := h.Service.UserByID(r.Context(), p.UserID)
	if err != nil {
		httperr.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, models.UserFromDomain(user))
}
