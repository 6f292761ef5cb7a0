package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/trackpay/trackpay-api/internal/activity"
	"github.com/trackpay/trackpay-api/internal/auth"
	"github.com/trackpay/trackpay-api/internal/client"
	"github.com/trackpay/trackpay-api/internal/config"
	"github.com/trackpay/trackpay-api/internal/database"
	"github.com/trackpay/trackpay-api/internal/handler"
	"github.com/trackpay/trackpay-api/internal/invite"
	"github.com/trackpay/trackpay-api/internal/logger"
	"github.com/trackpay/trackpay-api/internal/metrics"
	"github.com/trackpay/trackpay-api/internal/middleware"
	"github.com/trackpay/trackpay-api/internal/notify"
	"github.com/trackpay/trackpay-api/internal/payment"
	"github.com/trackpay/trackpay-api/internal/repository"
	"github.com/trackpay/trackpay-api/internal/security"
	"github.com/trackpay/trackpay-api/internal/telemetry"
	"github.com/trackpay/trackpay-api/internal/tracking"
	"github.com/trackpay/trackpay-api/internal/user"
	"github.com/trackpay/trackpay-api/internal/waitlist"
	"github.com/trackpay/trackpay-api/internal/worker/cleanup"
	"github.com/trackpay/trackpay-api/internal/worker/outbox"
)

// serviceName はトレースとHTTP計装で使うサービス名。
const serviceName = "trackpay-api"

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

	// 3. 設定に従ってログレベルを切り替える
	logger.SetLevel(cfg.LogLevel)

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	if cmd == CommandHelp {
		PrintUsage(w)
		return nil
	}

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
	)

	switch cmd {
	case CommandServe:
		return runServe(cfg)
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// newRegistry はアプリケーションとランタイムのメトリクスを登録したレジストリを返す。
func newRegistry() (*prometheus.Registry, *metrics.Collector) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg, metrics.NewCollector(reg)
}

// newRateLimiterConfig は1分あたりの設定値からレート制限設定を組み立てる。
func newRateLimiterConfig(cfg *config.Config) middleware.RateLimiterConfig {
	rl := middleware.DefaultRateLimiterConfig()
	rl.GeneralRate, rl.GeneralBurst = middleware.PerMinute(cfg.RateLimitGeneral)
	rl.InviteRate, rl.InviteBurst = middleware.PerMinute(cfg.RateLimitInvite)
	rl.WaitlistRate, rl.WaitlistBurst = middleware.PerMinute(cfg.RateLimitWaitlist)
	rl.AuthRate, rl.AuthBurst = middleware.PerMinute(cfg.RateLimitAuth)
	return rl
}

// newMailer はSendGridが設定されていればMailerを返す。
// 未設定の場合はnilを返し、招待メール送信はEMAIL_DISABLEDになる。
func newMailer(cfg *config.Config) notify.Mailer {
	if !cfg.EmailEnabled() {
		slog.Info("email delivery disabled: SENDGRID_API_KEY is not set")
		return nil
	}
	return notify.NewSendGridMailer(cfg.SendGridAPIKey, cfg.EmailSender)
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	shutdownTracing := telemetry.Setup(context.Background(), telemetry.Config{
		ServiceName: serviceName,
		Endpoint:    cfg.OTLPEndpoint,
		Insecure:    cfg.OTLPInsecure,
	})

	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")

	// 2. リポジトリの初期化
	userRepo := repository.NewPostgresUserRepo(db)
	authSessionRepo := repository.NewPostgresAuthSessionRepo(db)
	relRepo := repository.NewPostgresRelationshipRepo(db)
	workSessionRepo := repository.NewPostgresSessionRepo(db)
	paymentRepo := repository.NewPostgresPaymentRepo(db)
	inviteRepo := repository.NewPostgresInviteRepo(db)
	activityRepo := repository.NewPostgresActivityRepo(db)
	waitlistRepo := repository.NewPostgresWaitlistRepo(db)

	// 3. 横断的な依存の初期化
	registry, collector := newRegistry()
	sanitizer := security.NewTextSanitizer()
	tokens := auth.NewTokenManager(cfg.SessionSecret)

	// 4. ドメインサービスの初期化
	authService := auth.NewService(
		userRepo, authSessionRepo, inviteRepo, sanitizer, collector,
		auth.ServiceConfig{SessionMaxAge: cfg.SessionMaxAge},
	)
	clientService := client.NewService(relRepo, userRepo, workSessionRepo, sanitizer, auth.ValidateEmail, cfg.InviteTTL)
	trackingService := tracking.NewService(relRepo, workSessionRepo, collector)
	paymentService := payment.NewService(relRepo, workSessionRepo, paymentRepo, sanitizer, collector)
	inviteService := invite.NewService(
		inviteRepo, relRepo, userRepo, newMailer(cfg), collector, auth.ValidateEmail, cfg.InviteTTL,
	)
	activityService := activity.NewService(activityRepo)
	waitlistService := waitlist.NewService(waitlistRepo, auth.ValidateEmail)
	userService := user.NewService(userRepo, authSessionRepo, relRepo)

	// 5. ルーターの構築
	rateLimiter := middleware.NewRateLimiter(newRateLimiterConfig(cfg))
	defer rateLimiter.Stop()

	deps := &handler.RouterDeps{
		SessionFinder:     authSessionRepo,
		TokenParser:       tokens,
		UserFinder:        userRepo,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		CSRFConfig: middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
		},
		HSTS:        cfg.CookieSecure,
		RateLimiter: rateLimiter,
		Logger:      slog.Default(),

		HealthChecker:  db,
		MetricsHandler: metrics.Handler(registry),

		AuthService: handler.NewAuthServiceAdapter(authService, tokens),
		AuthConfig: handler.AuthHandlerConfig{
			CookieDomain:  cfg.CookieDomain,
			CookieSecure:  cfg.CookieSecure,
			SessionMaxAge: cfg.SessionMaxAge,
		},

		ClientService:   clientService,
		TrackingService: trackingService,
		PaymentService:  paymentService,
		InviteService:   inviteService,
		ActivityService: activityService,
		WaitlistService: waitlistService,
		UserService:     userService,
	}

	router := handler.NewRouter(deps)

	// 6. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      otelhttp.NewHandler(router, serviceName),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down API server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	if err := shutdownTracing(ctx); err != nil {
		slog.Warn("tracer shutdown failed", slog.String("error", err.Error()))
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// DB接続を開き、期限切れデータの整理ジョブとアクティビティ配信スケジューラを起動する。
// 運用ポートでは/metricsと/healthを公開する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established (worker)")

	// 2. リポジトリの初期化
	userRepo := repository.NewPostgresUserRepo(db)
	authSessionRepo := repository.NewPostgresAuthSessionRepo(db)
	relRepo := repository.NewPostgresRelationshipRepo(db)
	inviteRepo := repository.NewPostgresInviteRepo(db)
	activityRepo := repository.NewPostgresActivityRepo(db)

	registry, collector := newRegistry()

	// 3. クリーンアップジョブの初期化（ワーカーはメールを送らない）
	inviteService := invite.NewService(
		inviteRepo, relRepo, userRepo, nil, collector, auth.ValidateEmail, cfg.InviteTTL,
	)
	cleanupJob := cleanup.NewCleanupJob(inviteService, authSessionRepo, slog.Default())

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
		slog.Duration("cleanup_interval", cfg.CleanupInterval),
		slog.Bool("outbox_enabled", cfg.OutboxEnabled()),
	)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		cleanupJob.Start(ctx, cfg.CleanupInterval)
	}()

	// 4. アクティビティ配信スケジューラの起動
	if cfg.OutboxEnabled() {
		deliverer := outbox.NewDeliverer(
			activityRepo,
			security.NewWebhookGuard().NewSafeClient(cfg.OutboxTimeout),
			cfg.ActivityWebhookURL,
			collector,
			slog.Default(),
		)
		scheduler := outbox.NewScheduler(
			activityRepo, deliverer, slog.Default(), cfg.OutboxBatchSize, cfg.OutboxMaxConcurrent,
		)

		wg.Add(1)
		go func() {
			defer wg.Done()
			scheduler.Start(ctx, cfg.OutboxInterval)
		}()
	} else {
		slog.Info("activity outbox disabled: ACTIVITY_WEBHOOK_URL is not set")
	}

	// 5. 運用ポート（/metrics, /health）の起動
	opsServer := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           metrics.SetupMetricsRoute(registry, handler.NewHealthHandler(db)),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := opsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("worker ops server error", slog.String("error", err.Error()))
		}
	}()

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := opsServer.Shutdown(shutdownCtx); err != nil {
		slog.Warn("worker ops server shutdown failed", slog.String("error", err.Error()))
	}

	wg.Wait()

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	version, err := database.RunMigrations(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully",
		slog.Uint64("version", uint64(version)),
	)
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	httpClient := &http.Client{Timeout: 5 * time.Second}

	resp, err := httpClient.Get(url)
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
