package handlers

import (
	"math"
	"net/http"
	"time"

	"github.com/advisoria/auth-service/internal/transport/http/httperr"
	"github.com/advisoria/auth-service/internal/transport/http/models"
)

// ForgotPassword обрабатывает POST /auth/forgot-password.
// Ответ одинаков для зарегистрированного и неизвестного e-mail:
// существование учётной записи не раскрывается.
func (h *Handlers) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var in models.ForgotPasswordRequest
	if err := decodeStrict(r, &in); err != nil {
		badRequest(w, r)
		return
	}

	expiresAt, err := h.Service.RequestPasswordReset(r.Context(), in.Email)
	if err != nil {
		httperr.WriteError(w, r, err)
		return
	}

	remaining := int(math.Ceil(time.Until(expiresAt).Minutes()))
	writeJSON(w, http.StatusOK, models.ForgotPasswordResponse{
		Success:          true,
		Message:          "if the email is registered, a reset code has been sent",
		ExpiresAt:        expiresAt.Unix(),
		RemainingMinutes: remaining,
	})
}

// VerifyOTP обрабатывает POST /auth/verify-otp: проверка кода без
// потребления, чтобы UI мог валидировать код до ввода нового пароля.
func (h *Handlers) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	var in models.VerifyOTPRequest
	if err := decodeStrict(r, &in); err != nil {
		badRequest(w, r)
		return
	}

	if err := h.Service.VerifyOTP(r.Context(), in.Email, in.OTP); err != nil {
		httperr.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, models.StatusResponse{
		Success: true,
		Message: "code is valid",
	})
}

// ResetPassword обрабатывает POST /auth/reset-password: завершает сброс,
// после успеха прежний код и все refresh-токены пользователя недействительны.
func (h *Handlers) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var in models.ResetPasswordRequest
	if err := decodeStrict(r, &in); err != nil {
		badRequest(w, r)
		return
	}

	if in.NewPassword != in.ConfirmPassword {
		badRequest(w, r)
		return
	}

	if err := h.Service.ResetPassword(r.Context(), in.Email, in.OTP, in.NewPassword); err != nil {
		httperr.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, models.StatusResponse{
		Success: true,
		Message: "password has been reset",
	})
}
