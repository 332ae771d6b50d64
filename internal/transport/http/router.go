package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/advisoria/auth-service/internal/config"
	"github.com/advisoria/auth-service/internal/service"
	"github.com/advisoria/auth-service/internal/transport/http/handlers"
	"github.com/advisoria/auth-service/internal/transport/http/middleware"
)

// Options — параметры сборки HTTP-роутера.
type Options struct {
	Logger   *slog.Logger
	Timeout  time.Duration
	BasePath string // например, "/api"; если пустой — роуты регистрируются на корне.
	Cookie   config.CookieConfig
	Ready    func() bool  // readiness-проба; nil — всегда готов.
	Metrics  http.Handler // /metrics; nil — эндпойнт не регистрируется.
}

// NewRouter собирает http.Handler с chi и подключёнными middleware/роутами.
func NewRouter(svc *service.Service, opts Options) http.Handler {
	root := chi.NewRouter()

	// Middleware (внешний -> внутренний).
	root.Use(
		middleware.Recover(),            // безопасно ловим паники
		middleware.RequestID(),          // формируем/прокидываем X-Request-Id (до логирования!)
		middleware.Logging(opts.Logger), // кладём request-scoped логгер в контекст и логируем
	)
	if opts.Timeout > 0 {
		root.Use(middleware.Timeout(opts.Timeout)) // общий дедлайн запроса
	}

	// Служебные эндпойнты всегда на корне, вне BasePath.
	registerOps(root, opts)

	// Зависимости хендлеров.
	h := handlers.New(svc, opts.Cookie)
	authed := middleware.Authenticate(svc, opts.Cookie.Name)

	if opts.BasePath != "" {
		sub := chi.NewRouter()
		registerRoutes(sub, h, authed)
		root.Mount(opts.BasePath, sub)
		return root
	}

	registerRoutes(root, h, authed)
	return root
}

// registerRoutes — единая точка регистрации всех REST-эндпойнтов.
func registerRoutes(r chi.Router, h *handlers.Handlers, authed middleware.Middleware) {
	// открытые операции
	r.Post("/auth/register", h.Register)
	r.Post("/auth/login", h.Login)
	r.Post("/auth/refresh-token", h.RefreshToken)
	r.Post("/auth/forgot-password", h.ForgotPassword)
	r.Post("/auth/verify-otp", h.VerifyOTP)
	r.Post("/auth/reset-password", h.ResetPassword)
	r.Post("/auth/logout", h.Logout)

	// операции под access-токеном
	r.Group(func(g chi.Router) {
		g.Use(authed)
		g.Post("/auth/logout-all", h.LogoutAll)
		g.Get("/auth/me", h.Me)
	})
}

// registerOps — liveness/readiness и метрики.
func registerOps(r chi.Router, opts Options) {
	r.Get("/livez", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		if opts.Ready == nil || opts.Ready() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
			return
		}
		http.Error(w, "not ready", http.StatusServiceUnavailable)
	})

	if opts.Metrics != nil {
		r.Handle("/metrics", opts.Metrics)
	}
}
