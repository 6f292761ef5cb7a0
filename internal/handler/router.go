package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/trackpay/trackpay-api/internal/middleware"
	"github.com/trackpay/trackpay-api/internal/model"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	SessionFinder     middleware.SessionFinder
	TokenParser       middleware.TokenParser
	UserFinder        middleware.UserFinder
	CORSAllowedOrigin string
	CSRFConfig        middleware.CSRFConfig
	HSTS              bool
	RateLimiter       *middleware.RateLimiter
	Logger            *slog.Logger

	// 運用エンドポイント。MetricsHandlerがnilの場合は/metricsを公開しない。
	HealthChecker  HealthChecker
	MetricsHandler http.Handler

	// 認証
	AuthService AuthServiceInterface
	AuthConfig  AuthHandlerConfig

	ClientService   ClientServiceInterface
	TrackingService TrackingServiceInterface
	PaymentService  PaymentServiceInterface
	InviteService   InviteServiceInterface
	ActivityService ActivityServiceInterface
	WaitlistService WaitlistServiceInterface
	UserService     UserServiceInterface
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → RealIP → Logging → Recovery → SecurityHeaders → CORS → CSRF
//	  → (認証ルート) Session → RateLimit(General) → Role
//
// 公開ルートのうちサインアップ、ログイン、招待照会、ウェイトリストはIP単位でレート制限する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware(deps.HSTS))
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(middleware.NewCSRFMiddleware(deps.CSRFConfig))

	authHandler := NewAuthHandler(deps.AuthService, deps.AuthConfig)
	clientHandler := NewClientHandler(deps.ClientService)
	sessionHandler := NewSessionHandler(deps.TrackingService)
	paymentHandler := NewPaymentHandler(deps.PaymentService)
	inviteHandler := NewInviteHandler(deps.InviteService)
	activityHandler := NewActivityHandler(deps.ActivityService)
	waitlistHandler := NewWaitlistHandler(deps.WaitlistService)
	userHandler := NewUserHandler(deps.UserService, deps.AuthConfig)

	sessionMW := middleware.NewSessionMiddleware(deps.SessionFinder, deps.TokenParser)
	providerOnly := middleware.NewRoleMiddleware(deps.UserFinder, model.RoleProvider)
	clientOnly := middleware.NewRoleMiddleware(deps.UserFinder, model.RoleClient)

	// --- 認証不要のルート ---

	r.Get("/health", NewHealthHandler(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	r.Route("/auth", func(r chi.Router) {
		r.Get("/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRFConfig).ServeHTTP)

		r.Group(func(r chi.Router) {
			r.Use(deps.RateLimiter.AuthMiddleware())
			r.Post("/signup", authHandler.Signup)
			r.Post("/login", authHandler.Login)
		})

		// セッション管理
		r.Group(func(r chi.Router) {
			r.Use(sessionMW)
			r.Post("/logout", authHandler.Logout)
			r.Get("/me", authHandler.Me)
		})
	})

	r.With(deps.RateLimiter.InviteMiddleware()).Get("/api/invites/{code}", inviteHandler.Lookup)
	r.With(deps.RateLimiter.WaitlistMiddleware()).Post("/api/waitlist", waitlistHandler.Join)

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: Session → RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(sessionMW)
		r.Use(deps.RateLimiter.GeneralMiddleware())

		// プロバイダーのクライアント名簿
		r.Route("/api/clients", func(r chi.Router) {
			r.Use(providerOnly)
			r.Get("/", clientHandler.ListClients)
			r.Post("/", clientHandler.AddClient)

			r.Route("/{id}", func(r chi.Router) {
				r.Use(requireUUIDParam("id", model.NewClientNotFoundError))
				r.Patch("/", clientHandler.UpdateClient)
				r.Delete("/", clientHandler.RemoveClient)
				r.Get("/summary", sessionHandler.Summary)
				r.Get("/sessions", sessionHandler.ListSessions)
				r.Post("/sessions", sessionHandler.StartSession)
				r.Get("/sessions/active", sessionHandler.GetActiveSession)
				r.Post("/payment-requests", sessionHandler.RequestPayment)
				r.Post("/invites", inviteHandler.Generate)
			})
		})

		// クライアントから見たプロバイダー
		r.Route("/api/providers", func(r chi.Router) {
			r.Use(clientOnly)
			r.Get("/", clientHandler.ListProviders)

			r.Route("/{id}", func(r chi.Router) {
				r.Use(requireUUIDParam("id", model.NewClientNotFoundError))
				r.Get("/summary", sessionHandler.Summary)
				r.Get("/sessions", sessionHandler.ListSessions)
				r.Get("/sessions/active", sessionHandler.GetActiveSession)
			})
		})

		r.Route("/api/sessions/{id}", func(r chi.Router) {
			r.Use(providerOnly)
			r.Use(requireUUIDParam("id", model.NewSessionNotFoundError))
			r.Delete("/", sessionHandler.DeleteSession)
			r.Post("/stop", sessionHandler.StopSession)
		})

		r.Route("/api/payments", func(r chi.Router) {
			r.Get("/", paymentHandler.ListPayments)
			r.Post("/", paymentHandler.RecordPayment)
		})

		// /api/invites/{code} の公開照会と同じツリーに載せるため、サブルーターにはしない
		r.With(deps.RateLimiter.InviteMiddleware()).Post("/api/invites/claim", inviteHandler.Claim)
		r.With(providerOnly, requireUUIDParam("id", inviteNotFound)).Post("/api/invites/{id}/email", inviteHandler.SendEmail)

		r.Get("/api/activities", activityHandler.ListActivities)
		r.Delete("/api/users/me", userHandler.Withdraw)
	})

	return r
}

func inviteNotFound(string) *model.APIError {
	return model.NewInviteNotFoundError()
}
