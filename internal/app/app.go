package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/opendatacensus/internal/auth"
	"github.com/hitoshi/opendatacensus/internal/census"
	"github.com/hitoshi/opendatacensus/internal/config"
	"github.com/hitoshi/opendatacensus/internal/database"
	"github.com/hitoshi/opendatacensus/internal/handler"
	"github.com/hitoshi/opendatacensus/internal/logger"
	"github.com/hitoshi/opendatacensus/internal/metrics"
	"github.com/hitoshi/opendatacensus/internal/middleware"
	"github.com/hitoshi/opendatacensus/internal/refdata"
	"github.com/hitoshi/opendatacensus/internal/repository"
	"github.com/hitoshi/opendatacensus/internal/security"
	"github.com/hitoshi/opendatacensus/internal/worker/cleanup"
)

// sessionCleanupInterval はワーカーが期限切れセッションを削除する周期。
const sessionCleanupInterval = 24 * time.Hour

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定されたログレベルを反映する
	logger.SetLevel(cfg.LogLevel)

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
		slog.Int("submit_year", cfg.SubmitYear),
		slog.Int("reviewers", len(cfg.Reviewers)),
	)

	switch cmd {
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// openDB はDB接続を開き、疎通を確認する。
func openDB(cfg *config.Config) (*sql.DB, error) {
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// runServe はWebサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. DB接続
	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established")

	// 2. 参照データ（REFERENCE_DATA_PATH未設定時は埋め込みカタログ）
	catalog, err := refdata.NewStore(refdata.FileLoader(cfg.ReferenceDataPath))
	if err != nil {
		return err
	}

	router, limiter, err := buildRouter(cfg, db, catalog, prometheus.NewRegistry())
	if err != nil {
		return err
	}
	defer limiter.Stop()

	// 3. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15*time.Second + cfg.LinkCheckTimeout,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("census server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down census server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("census server stopped gracefully")
	return nil
}

// buildRouter はリポジトリからハンドラーまでをワイヤリングし、ルーターを返す。
// 返したRateLimiterはサーバー停止時にStopすること。
func buildRouter(cfg *config.Config, db *sql.DB, catalog census.Catalog, reg *prometheus.Registry) (http.Handler, *middleware.RateLimiter, error) {
	// リポジトリ
	sessionRepo := repository.NewPostgresSessionRepo(db)
	submissionRepo := repository.NewPostgresSubmissionRepo(db)
	entryRepo := repository.NewPostgresEntryRepo(db)

	// メトリクス
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	recorder := metrics.NewCollector(reg)

	// 認証
	oauthProvider := auth.NewFacebookOAuthProvider(auth.FacebookOAuthConfig{
		AppID:       cfg.FacebookAppID,
		AppSecret:   cfg.FacebookAppSecret,
		RedirectURL: cfg.FacebookRedirectURL(),
		HTTPClient:  &http.Client{Timeout: 10 * time.Second},
	})
	authService := auth.NewService(oauthProvider, sessionRepo, auth.ServiceConfig{
		SessionMaxAge: cfg.SessionMaxAge,
	})

	// セキュリティ
	guard := security.NewSSRFGuard()
	links := security.NewLinkChecker(guard, guard.NewSafeClient(cfg.LinkCheckTimeout))

	// 投稿ワークフロー
	censusService := census.NewService(
		submissionRepo, entryRepo,
		auth.NewGate(cfg.Reviewers),
		catalog,
		security.NewAnswerSanitizer(),
		guard,
		links,
		recorder,
		census.Config{
			SubmitYear:      cfg.SubmitYear,
			ReloadOnPublish: cfg.RefdataReloadOnPublish,
		},
	)

	limiter := middleware.NewRateLimiter(middleware.NewRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitSubmit))

	router, err := handler.NewRouter(&handler.RouterDeps{
		Logger:            slog.Default(),
		UserResolver:      authService,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		CSRFConfig: middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
		},
		RateLimiter: limiter,
		Signer:      middleware.NewCookieSigner(cfg.SessionSecret, cfg.CookieSecure, cfg.CookieDomain),

		HealthChecker:  db,
		Metrics:        recorder,
		MetricsHandler: metrics.Handler(reg),

		AuthService: authService,
		AuthConfig: handler.AuthHandlerConfig{
			CookieDomain:  cfg.CookieDomain,
			CookieSecure:  cfg.CookieSecure,
			SessionMaxAge: cfg.SessionMaxAge,
		},

		CensusService: censusService,
	})
	if err != nil {
		limiter.Stop()
		return nil, nil, fmt.Errorf("failed to build router: %w", err)
	}
	return router, limiter, nil
}

// runWorker はワーカーモードで起動する。
// 期限切れセッションの削除を日次で実行し、SIGINTまたはSIGTERMシグナルを受信すると終了する。
func runWorker(cfg *config.Config) error {
	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established (worker)")

	job := cleanup.NewSessionCleanupJob(db, slog.Default(), cfg.SessionRetentionDays)

	// グレースフルシャットダウンのためのシグナルハンドリング
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-stop
		slog.Info("shutting down worker...")
		cancel()
	}()

	slog.Info("worker starting",
		slog.Duration("cleanup_interval", sessionCleanupInterval),
		slog.Int("session_retention_days", job.RetentionDays),
	)

	job.Start(ctx, sessionCleanupInterval)

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	return checkHealth(fmt.Sprintf("http://localhost:%s/health", port))
}

func checkHealth(url string) error {
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
