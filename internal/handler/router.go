package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/opendatacensus/internal/metrics"
	"github.com/hitoshi/opendatacensus/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	UserResolver      middleware.UserResolver
	CORSAllowedOrigin string
	CSRFConfig        middleware.CSRFConfig
	RateLimiter       *middleware.RateLimiter
	Signer            *middleware.CookieSigner

	// 監視
	HealthChecker  HealthChecker
	Metrics        metrics.Recorder
	MetricsHandler http.Handler

	// 認証
	AuthService AuthServiceInterface
	AuthConfig  AuthHandlerConfig

	// センサス
	CensusService CensusServiceInterface
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → Logging → Metrics → SecurityHeaders → Session → RateLimit(General)
//
// HTMLページにはCSRFを、/apiにはCORSを適用する。/healthと/metricsはチェーンの外に配置する。
func NewRouter(deps *RouterDeps) (http.Handler, error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	recorder := deps.Metrics
	if recorder == nil {
		recorder = metrics.Nop{}
	}

	views, err := NewRenderer(deps.CensusService, deps.Signer)
	if err != nil {
		return nil, err
	}

	authHandler := NewAuthHandler(deps.AuthService, views, deps.Signer, recorder, deps.AuthConfig)
	censusHandler := NewCensusHandler(deps.CensusService, views, deps.Signer)
	apiHandler := NewAPIHandler(deps.CensusService)

	r := chi.NewRouter()
	r.Use(middleware.NewRecoveryMiddleware())

	// --- 監視用のルート ---
	if deps.HealthChecker != nil {
		r.Get("/health", Health(deps.HealthChecker))
	}
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.NewLoggingMiddleware(logger))
		r.Use(middleware.NewMetricsMiddleware(recorder))
		r.Use(middleware.NewSecurityHeadersMiddleware())
		r.Use(middleware.NewSessionMiddleware(deps.UserResolver))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		// JSON API
		r.Route("/api", func(r chi.Router) {
			r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
			r.Get("/submissions/{id}", apiHandler.GetSubmission)
		})

		// HTMLページ
		csrf := middleware.NewCSRFMiddleware(deps.CSRFConfig)
		r.Group(func(r chi.Router) {
			r.Use(csrf)

			r.Get("/", censusHandler.Overview)
			r.Get("/faq", censusHandler.FAQ)
			r.Get("/contribute", censusHandler.Contribute)
			r.Get("/country/overview/", censusHandler.Overview)
			r.Get("/country/overview/{place}", censusHandler.PlaceOverview)
			r.Get("/country/submission/{id}", censusHandler.Submission)

			r.Get("/login", authHandler.LoginPage)
			r.Route("/auth", func(r chi.Router) {
				r.Get("/facebook", authHandler.Login)
				r.Get("/facebook/callback", authHandler.Callback)
				r.Get("/loggedin", authHandler.LoggedIn)
				r.Get("/logout", authHandler.Logout)
			})
		})

		// ログインが必要なルート
		// 未ログインの送信はCSRF検証より先に/loginへリダイレクトする
		r.Group(func(r chi.Router) {
			r.Use(requireLoggedIn)
			r.Use(csrf)
			r.Use(deps.RateLimiter.SubmitMiddleware())

			r.Get("/country/submit", censusHandler.SubmitForm)
			r.Post("/country/submit", censusHandler.Submit)
			r.Get("/country/review/{submissionid}", censusHandler.Review)
			r.Post("/country/review/{submissionid}", censusHandler.ProcessReview)
		})
	})

	return r, nil
}
