package http

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/advisoria/auth-service/internal/config"
	"github.com/advisoria/auth-service/internal/models"
	"github.com/advisoria/auth-service/internal/service"
	"github.com/advisoria/auth-service/internal/storage"
	"github.com/advisoria/auth-service/mocks"
)

type apiError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

type errEnvelope struct {
	Error apiError `json:"error"`
}

type authResponse struct {
	Message string `json:"message"`
	User    struct {
		ID       string `json:"id"`
		Name     string `json:"name"`
		Email    string `json:"email"`
		IsActive bool   `json:"is_active"`
	} `json:"user"`
	AccessToken     string `json:"access_token"`
	RefreshToken    string `json:"refresh_token"`
	AccessExpiresAt int64  `json:"access_expires_at"`
}

func testAuthCfg() config.AuthConfig {
	return config.AuthConfig{
		JWTSecret:       "router-test-secret",
		AccessTokenTTL:  15 * time.Minute,
		RefreshTokenTTL: 24 * time.Hour,
		Issuer:          "advisoria-auth",
		Audience:        []string{"advisoria-web"},
	}
}

func newTestRouter(t *testing.T, opts Options) (http.Handler, *mocks.MockStorage, *mocks.MockSender) {
	t.Helper()

	ctrl := gomock.NewController(t)
	t.Cleanup(ctrl.Finish)

	st := mocks.NewMockStorage(ctrl)
	ml := mocks.NewMockSender(ctrl)
	svc := service.New(st, testAuthCfg(), config.OTPConfig{TTL: 10 * time.Minute}, ml)

	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.Cookie.Name == "" {
		opts.Cookie = config.CookieConfig{Name: "access_token"}
	}

	return NewRouter(svc, opts), st, ml
}

func doJSON(t *testing.T, h http.Handler, method, target string, body any, mod func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()

	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	}

	req := httptest.NewRequest(method, target, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if mod != nil {
		mod(req)
	}

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func findCookie(t *testing.T, rr *httptest.ResponseRecorder, name string) *http.Cookie {
	t.Helper()
	res := rr.Result()
	defer res.Body.Close()
	for _, c := range res.Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// mustQuickHash — быстрый bcrypt-хэш для login-тестов (MinCost достаточно:
// хендлер сравнивает, а не генерирует).
func mustQuickHash(t *testing.T, pw string) string {
	t.Helper()
	h, err := bcrypt.GenerateFromPassword([]byte(pw), bcrypt.MinCost)
	require.NoError(t, err)
	return string(h)
}

func decodeErr(t *testing.T, rr *httptest.ResponseRecorder) errEnvelope {
	t.Helper()
	var env errEnvelope
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &env))
	return env
}

func TestRegister_OK(t *testing.T) {
	h, st, _ := newTestRouter(t, Options{})

	st.EXPECT().UserByEmail(gomock.Any(), "ivan@example.com").Return(nil, storage.ErrNotFound)
	st.EXPECT().SaveUser(gomock.Any(), gomock.Any()).Return(nil)
	st.EXPECT().SaveRefreshToken(gomock.Any(), gomock.Any()).Return(nil)

	rr := doJSON(t, h, http.MethodPost, "/auth/register", map[string]string{
		"name":             "Ivan",
		"email":            "Ivan@Example.com",
		"password":         "Abcdef1!",
		"confirm_password": "Abcdef1!",
	}, nil)

	require.Equal(t, http.StatusOK, rr.Code)

	var resp authResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Equal(t, "registered", resp.Message)
	require.Equal(t, "ivan@example.com", resp.User.Email)
	require.True(t, resp.User.IsActive)
	require.NotEmpty(t, resp.AccessToken)
	require.NotEmpty(t, resp.RefreshToken)

	c := findCookie(t, rr, "access_token")
	require.NotNil(t, c)
	require.Equal(t, resp.AccessToken, c.Value)
	require.True(t, c.HttpOnly)
}

func TestRegister_PasswordMismatch_400(t *testing.T) {
	h, _, _ := newTestRouter(t, Options{})

	rr := doJSON(t, h, http.MethodPost, "/auth/register", map[string]string{
		"name":             "Ivan",
		"email":            "ivan@example.com",
		"password":         "Abcdef1!",
		"confirm_password": "Other1!x",
	}, nil)

	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Equal(t, "invalid_argument", decodeErr(t, rr).Error.Code)
}

func TestRegister_UnknownField_400(t *testing.T) {
	h, _, _ := newTestRouter(t, Options{})

	rr := doJSON(t, h, http.MethodPost, "/auth/register", map[string]string{
		"name":             "Ivan",
		"email":            "ivan@example.com",
		"password":         "Abcdef1!",
		"confirm_password": "Abcdef1!",
		"unexpected":       "field",
	}, nil)

	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestRegister_EmailTaken_409(t *testing.T) {
	h, st, _ := newTestRouter(t, Options{})

	st.EXPECT().UserByEmail(gomock.Any(), "ivan@example.com").
		Return(&models.User{ID: uuid.New(), Email: "ivan@example.com"}, nil)

	rr := doJSON(t, h, http.MethodPost, "/auth/register", map[string]string{
		"name":             "Ivan",
		"email":            "ivan@example.com",
		"password":         "Abcdef1!",
		"confirm_password": "Abcdef1!",
	}, nil)

	require.Equal(t, http.StatusConflict, rr.Code)
	require.Equal(t, "already_exists", decodeErr(t, rr).Error.Code)
}

func TestLogin_OK_SetsCookie(t *testing.T) {
	h, st, _ := newTestRouter(t, Options{})

	pw := "Abcdef1!"
	user := &models.User{
		ID:           uuid.New(),
		Name:         "Ivan",
		Email:        "ivan@example.com",
		IsActive:     true,
		PasswordHash: mustQuickHash(t, pw),
	}

	st.EXPECT().UserByEmail(gomock.Any(), user.Email).Return(user, nil)
	st.EXPECT().SaveRefreshToken(gomock.Any(), gomock.Any()).Return(nil)

	rr := doJSON(t, h, http.MethodPost, "/auth/login", map[string]string{
		"email":    user.Email,
		"password": pw,
	}, nil)

	require.Equal(t, http.StatusOK, rr.Code)

	var resp authResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Equal(t, user.ID.String(), resp.User.ID)

	c := findCookie(t, rr, "access_token")
	require.NotNil(t, c)
	require.Equal(t, resp.AccessToken, c.Value)
}

func TestLogin_WrongPassword_401(t *testing.T) {
	h, st, _ := newTestRouter(t, Options{})

	user := &models.User{
		ID:           uuid.New(),
		Email:        "ivan@example.com",
		IsActive:     true,
		PasswordHash: mustQuickHash(t, "Abcdef1!"),
	}

	st.EXPECT().UserByEmail(gomock.Any(), user.Email).Return(user, nil)

	rr := doJSON(t, h, http.MethodPost, "/auth/login", map[string]string{
		"email":    user.Email,
		"password": "Wrong1!pass",
	}, nil)

	require.Equal(t, http.StatusUnauthorized, rr.Code)
	require.Equal(t, "unauthenticated", decodeErr(t, rr).Error.Code)
}

func TestRefreshToken_MissingToken_400(t *testing.T) {
	h, _, _ := newTestRouter(t, Options{})

	rr := doJSON(t, h, http.MethodPost, "/auth/refresh-token", map[string]string{}, nil)
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestRefreshToken_Revoked_401(t *testing.T) {
	h, st, _ := newTestRouter(t, Options{})

	now := time.Now().UTC()
	st.EXPECT().RefreshTokenByHash(gomock.Any(), gomock.Any()).Return(&models.RefreshToken{
		UserID:    uuid.New(),
		CreatedAt: now.Add(-time.Hour),
		ExpiresAt: now.Add(time.Hour),
		Revoked:   true,
	}, nil)

	rr := doJSON(t, h, http.MethodPost, "/auth/refresh-token", map[string]string{
		"refresh_token": "some-refresh-token",
	}, nil)

	require.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestRefreshToken_OK_RotatesToken(t *testing.T) {
	h, st, _ := newTestRouter(t, Options{})

	user := &models.User{ID: uuid.New(), Name: "Ivan", Email: "ivan@example.com", IsActive: true}
	now := time.Now().UTC()

	st.EXPECT().RefreshTokenByHash(gomock.Any(), gomock.Any()).Return(&models.RefreshToken{
		UserID:    user.ID,
		CreatedAt: now.Add(-time.Hour),
		ExpiresAt: now.Add(time.Hour),
	}, nil)
	st.EXPECT().UserByID(gomock.Any(), user.ID).Return(user, nil)
	st.EXPECT().RevokeRefreshToken(gomock.Any(), gomock.Any(), gomock.Any()).Return(true, nil)
	st.EXPECT().SaveRefreshToken(gomock.Any(), gomock.Any()).Return(nil)

	rr := doJSON(t, h, http.MethodPost, "/auth/refresh-token", map[string]string{
		"refresh_token": "old-refresh-token",
	}, nil)

	require.Equal(t, http.StatusOK, rr.Code)

	var resp authResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.NotEqual(t, "old-refresh-token", resp.RefreshToken)
}

func TestLogout_OK_ClearsCookie(t *testing.T) {
	h, st, _ := newTestRouter(t, Options{})

	st.EXPECT().RevokeRefreshToken(gomock.Any(), gomock.Any(), gomock.Any()).Return(true, nil)

	rr := doJSON(t, h, http.MethodPost, "/auth/logout", map[string]string{
		"refresh_token": "the-refresh-token",
	}, nil)

	require.Equal(t, http.StatusOK, rr.Code)

	c := findCookie(t, rr, "access_token")
	require.NotNil(t, c)
	require.Empty(t, c.Value)
	require.Negative(t, c.MaxAge)
}

func TestLogout_AlreadyRevoked_StillOK(t *testing.T) {
	h, st, _ := newTestRouter(t, Options{})

	// Повторный logout того же токена не превращается в ошибку.
	st.EXPECT().RevokeRefreshToken(gomock.Any(), gomock.Any(), gomock.Any()).Return(false, nil)

	rr := doJSON(t, h, http.MethodPost, "/auth/logout", map[string]string{
		"refresh_token": "already-revoked",
	}, nil)

	require.Equal(t, http.StatusOK, rr.Code)
}

func TestLogout_EmptyBody_OK(t *testing.T) {
	h, _, _ := newTestRouter(t, Options{})

	rr := doJSON(t, h, http.MethodPost, "/auth/logout", nil, nil)
	require.Equal(t, http.StatusOK, rr.Code)
}

func TestForgotPassword_OK(t *testing.T) {
	h, st, ml := newTestRouter(t, Options{})

	user := &models.User{ID: uuid.New(), Name: "Ivan", Email: "ivan@example.com", IsActive: true}

	st.EXPECT().UserByEmail(gomock.Any(), user.Email).Return(user, nil)
	st.EXPECT().SetOTP(gomock.Any(), user.ID, gomock.Any(), gomock.Any()).Return(nil)
	ml.EXPECT().SendOTP(gomock.Any(), user.Email, user.Name, gomock.Any(), gomock.Any()).Return(nil)

	rr := doJSON(t, h, http.MethodPost, "/auth/forgot-password", map[string]string{
		"email": user.Email,
	}, nil)

	require.Equal(t, http.StatusOK, rr.Code)

	var resp struct {
		Success          bool  `json:"success"`
		ExpiresAt        int64 `json:"expires_at"`
		RemainingMinutes int   `json:"remaining_minutes"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.True(t, resp.Success)
	require.Equal(t, 10, resp.RemainingMinutes)
}

func TestForgotPassword_UnknownEmail_SameShape(t *testing.T) {
	h, st, _ := newTestRouter(t, Options{})

	st.EXPECT().UserByEmail(gomock.Any(), "ghost@example.com").Return(nil, storage.ErrNotFound)

	rr := doJSON(t, h, http.MethodPost, "/auth/forgot-password", map[string]string{
		"email": "ghost@example.com",
	}, nil)

	require.Equal(t, http.StatusOK, rr.Code)

	var resp struct {
		Success bool `json:"success"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.True(t, resp.Success)
}

func TestForgotPassword_MailDown_503(t *testing.T) {
	h, st, ml := newTestRouter(t, Options{})

	user := &models.User{ID: uuid.New(), Name: "Ivan", Email: "ivan@example.com", IsActive: true}

	st.EXPECT().UserByEmail(gomock.Any(), user.Email).Return(user, nil)
	st.EXPECT().SetOTP(gomock.Any(), user.ID, gomock.Any(), gomock.Any()).Return(nil)
	ml.EXPECT().SendOTP(gomock.Any(), user.Email, user.Name, gomock.Any(), gomock.Any()).
		Return(io.ErrUnexpectedEOF)

	rr := doJSON(t, h, http.MethodPost, "/auth/forgot-password", map[string]string{
		"email": user.Email,
	}, nil)

	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
	require.Equal(t, "unavailable", decodeErr(t, rr).Error.Code)
}

func TestVerifyOTP_InvalidCode_400(t *testing.T) {
	h, st, _ := newTestRouter(t, Options{})

	user := &models.User{
		ID:           uuid.New(),
		Email:        "ivan@example.com",
		IsActive:     true,
		OTPCode:      "123456",
		OTPExpiresAt: time.Now().UTC().Add(5 * time.Minute),
	}

	st.EXPECT().UserByEmail(gomock.Any(), user.Email).Return(user, nil)

	rr := doJSON(t, h, http.MethodPost, "/auth/verify-otp", map[string]string{
		"email": user.Email,
		"otp":   "654321",
	}, nil)

	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Equal(t, "invalid_otp", decodeErr(t, rr).Error.Code)
}

func TestVerifyOTP_OK(t *testing.T) {
	h, st, _ := newTestRouter(t, Options{})

	user := &models.User{
		ID:           uuid.New(),
		Email:        "ivan@example.com",
		IsActive:     true,
		OTPCode:      "123456",
		OTPExpiresAt: time.Now().UTC().Add(5 * time.Minute),
	}

	st.EXPECT().UserByEmail(gomock.Any(), user.Email).Return(user, nil)

	rr := doJSON(t, h, http.MethodPost, "/auth/verify-otp", map[string]string{
		"email": user.Email,
		"otp":   "123456",
	}, nil)

	require.Equal(t, http.StatusOK, rr.Code)
}

func TestResetPassword_OK(t *testing.T) {
	h, st, _ := newTestRouter(t, Options{})

	user := &models.User{ID: uuid.New(), Email: "ivan@example.com", IsActive: true}

	st.EXPECT().UserByEmail(gomock.Any(), user.Email).Return(user, nil)
	st.EXPECT().ResetPasswordWithOTP(gomock.Any(), user.ID, "123456", gomock.Any(), gomock.Any()).
		Return(true, nil)
	st.EXPECT().RevokeAllByUser(gomock.Any(), user.ID, gomock.Any()).Return(int64(1), nil)

	rr := doJSON(t, h, http.MethodPost, "/auth/reset-password", map[string]string{
		"email":            user.Email,
		"otp":              "123456",
		"new_password":     "NewPass1!",
		"confirm_password": "NewPass1!",
	}, nil)

	require.Equal(t, http.StatusOK, rr.Code)
}

func TestResetPassword_Mismatch_400(t *testing.T) {
	h, _, _ := newTestRouter(t, Options{})

	rr := doJSON(t, h, http.MethodPost, "/auth/reset-password", map[string]string{
		"email":            "ivan@example.com",
		"otp":              "123456",
		"new_password":     "NewPass1!",
		"confirm_password": "Different1!",
	}, nil)

	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestMe_RequiresToken(t *testing.T) {
	h, _, _ := newTestRouter(t, Options{})

	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	require.Equal(t, http.StatusUnauthorized, rr.Code)
	require.Equal(t, "unauthenticated", decodeErr(t, rr).Error.Code)
}

func TestMe_WithBearer_OK(t *testing.T) {
	h, st, _ := newTestRouter(t, Options{})

	pw := "Abcdef1!"
	user := &models.User{
		ID:           uuid.New(),
		Name:         "Ivan",
		Email:        "ivan@example.com",
		IsActive:     true,
		PasswordHash: mustQuickHash(t, pw),
		CreatedAt:    time.Now().UTC(),
	}

	st.EXPECT().UserByEmail(gomock.Any(), user.Email).Return(user, nil)
	st.EXPECT().SaveRefreshToken(gomock.Any(), gomock.Any()).Return(nil)

	login := doJSON(t, h, http.MethodPost, "/auth/login", map[string]string{
		"email":    user.Email,
		"password": pw,
	}, nil)
	require.Equal(t, http.StatusOK, login.Code)

	var lr authResponse
	require.NoError(t, json.Unmarshal(login.Body.Bytes(), &lr))

	st.EXPECT().UserByID(gomock.Any(), user.ID).Return(user, nil)

	rr := doJSON(t, h, http.MethodGet, "/auth/me", nil, func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+lr.AccessToken)
	})

	require.Equal(t, http.StatusOK, rr.Code)

	var me struct {
		ID    string `json:"id"`
		Email string `json:"email"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &me))
	require.Equal(t, user.ID.String(), me.ID)
	require.Equal(t, user.Email, me.Email)
}

func TestLogoutAll_WithBearer_OK(t *testing.T) {
	h, st, _ := newTestRouter(t, Options{})

	pw := "Abcdef1!"
	user := &models.User{
		ID:           uuid.New(),
		Name:         "Ivan",
		Email:        "ivan@example.com",
		IsActive:     true,
		PasswordHash: mustQuickHash(t, pw),
	}

	st.EXPECT().UserByEmail(gomock.Any(), user.Email).Return(user, nil)
	st.EXPECT().SaveRefreshToken(gomock.Any(), gomock.Any()).Return(nil)

	login := doJSON(t, h, http.MethodPost, "/auth/login", map[string]string{
		"email":    user.Email,
		"password": pw,
	}, nil)
	require.Equal(t, http.StatusOK, login.Code)

	var lr authResponse
	require.NoError(t, json.Unmarshal(login.Body.Bytes(), &lr))

	st.EXPECT().RevokeAllByUser(gomock.Any(), user.ID, gomock.Any()).Return(int64(3), nil)

	rr := doJSON(t, h, http.MethodPost, "/auth/logout-all", nil, func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+lr.AccessToken)
	})

	require.Equal(t, http.StatusOK, rr.Code)

	var resp struct {
		RevokedSessions int64 `json:"revoked_sessions"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Equal(t, int64(3), resp.RevokedSessions)
}

func TestOps_LivezAndHealthz(t *testing.T) {
	ready := false
	h, _, _ := newTestRouter(t, Options{Ready: func() bool { return ready }})

	rr := doJSON(t, h, http.MethodGet, "/livez", nil, nil)
	require.Equal(t, http.StatusOK, rr.Code)

	rr = doJSON(t, h, http.MethodGet, "/healthz", nil, nil)
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)

	ready = true
	rr = doJSON(t, h, http.MethodGet, "/healthz", nil, nil)
	require.Equal(t, http.StatusOK, rr.Code)
}

func TestBasePath_MountsRoutes(t *testing.T) {
	h, st, _ := newTestRouter(t, Options{BasePath: "/api"})

	st.EXPECT().UserByEmail(gomock.Any(), "ghost@example.com").Return(nil, storage.ErrNotFound)

	rr := doJSON(t, h, http.MethodPost, "/api/auth/forgot-password", map[string]string{
		"email": "ghost@example.com",
	}, nil)
	require.Equal(t, http.StatusOK, rr.Code)

	// Служебные эндпойнты остаются на корне.
	rr = doJSON(t, h, http.MethodGet, "/livez", nil, nil)
	require.Equal(t, http.StatusOK, rr.Code)
}

func TestRequestID_EchoedInErrorBody(t *testing.T) {
	h, _, _ := newTestRouter(t, Options{})

	rr := doJSON(t, h, http.MethodGet, "/auth/me", nil, func(r *http.Request) {
		r.Header.Set("X-Request-Id", "rid-7")
	})

	require.Equal(t, http.StatusUnauthorized, rr.Code)
	require.Equal(t, "rid-7", decodeErr(t, rr).Error.RequestID)
}
