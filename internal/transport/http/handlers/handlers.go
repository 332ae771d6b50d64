package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/advisoria/auth-service/internal/config"
	"github.com/advisoria/auth-service/internal/service"
	"github.com/advisoria/auth-service/internal/transport/http/httperr"
)

// Handlers агрегирует зависимости HTTP-слоя.
type Handlers struct {
	Service *service.Service
	Cookie  config.CookieConfig
}

func New(svc *service.Service, cookie config.CookieConfig) *Handlers {
	return &Handlers{Service: svc, Cookie: cookie}
}

// writeJSON — единый ответ JSON с нужным Content-Type.
// Ошибки выводим через httperr.WriteError.
func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}

// decodeStrict — строгий JSON-декодер: запрещаем неизвестные поля.
func decodeStrict(r *http.Request, value any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(value)
}

// decodeOptional — как decodeStrict, но пустое тело не считается ошибкой.
func decodeOptional(r *http.Request, value any) error {
	err := decodeStrict(r, value)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// setAccessCookie зеркалирует access-токен в HTTP-only cookie
// (легаси-путь для OAuth-теста сайта; основной транспорт — Bearer).
func (h *Handlers) setAccessCookie(w http.ResponseWriter, token string, expiresAt time.Time) {
	if h.Cookie.Name == "" {
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     h.Cookie.Name,
		Value:    token,
		Path:     "/",
		Domain:   h.Cookie.Domain,
		Expires:  expiresAt,
		HttpOnly: true,
		Secure:   h.Cookie.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// clearAccessCookie сбрасывает cookie c access-токеном.
func (h *Handlers) clearAccessCookie(w http.ResponseWriter) {
	if h.Cookie.Name == "" {
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     h.Cookie.Name,
		Value:    "",
		Path:     "/",
		Domain:   h.Cookie.Domain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.Cookie.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// badRequest — локальная ошибка разбора -> 400.
func badRequest(w http.ResponseWriter, r *http.Request) {
	httperr.WriteError(w, r, httperr.ErrBadRequest)
}
