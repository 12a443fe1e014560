// Package app はサブコマンドごとの依存関係のワイヤリングと起動処理を提供する。
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/signon/internal/auth"
	"github.com/hitoshi/signon/internal/config"
	"github.com/hitoshi/signon/internal/database"
	"github.com/hitoshi/signon/internal/handler"
	"github.com/hitoshi/signon/internal/logger"
	"github.com/hitoshi/signon/internal/metrics"
	"github.com/hitoshi/signon/internal/middleware"
	"github.com/hitoshi/signon/internal/repository"
	"github.com/hitoshi/signon/internal/security"
	"github.com/hitoshi/signon/internal/session"
	"github.com/hitoshi/signon/internal/view"
	"github.com/hitoshi/signon/internal/worker/cleanup"
)

const shutdownTimeout = 30 * time.Second

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
	logger.SetLevel(cfg.LogLevel)

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd, err := ParseCommand(args)
	if err != nil {
		return err
	}

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		return runHealthcheck(healthcheckPort())
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
		slog.String("session_store", cfg.SessionStore),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case CommandWorker:
		return runWorker(ctx, cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(ctx, cfg)
	}
}

// server はserveモードで組み立てた依存関係をまとめる。
type server struct {
	handler     http.Handler
	cleanup     *cleanup.CleanupJob
	rateLimiter *middleware.RateLimiter
}

// close はバックグラウンドのgoroutineを停止する。
func (s *server) close() {
	s.rateLimiter.Stop()
}

// newServer はConfigとDB接続から全依存関係をワイヤリングする。
// DBへの接続確認は行わない。
func newServer(cfg *config.Config, db *sql.DB) *server {
	// 1. リポジトリとセッションストア
	userRepo := repository.NewPostgresUserRepo(db)

	var store session.Store = session.NewMemoryStore()
	if cfg.SessionStore == config.SessionStorePostgres {
		store = repository.NewPostgresSessionRepo(db)
	}
	sessions := session.NewManager(store, time.Duration(cfg.SessionMaxAge)*time.Second)
	codec := session.NewCookieCodec(cfg.SessionSecret)

	// 2. メトリクス
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(registry)

	// 3. 外部呼び出しはSSRF対策済みのクライアントで行う
	ssrfGuard := security.NewSSRFGuard()
	oauthProvider := auth.NewGoogleOAuthProvider(auth.GoogleOAuthConfig{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  cfg.GoogleRedirectURL,
		HTTPClient:   ssrfGuard.NewSafeClient(cfg.ProviderTimeout),
	})
	authService := auth.NewService(
		oauthProvider, userRepo, sessions,
		security.NewProfileSanitizer(ssrfGuard), collector,
	)

	// 4. ルーター
	rateLimiter := middleware.NewRateLimiter(middleware.NewRateLimiterConfig(cfg.RateLimitAuth))

	router := handler.NewRouter(&handler.RouterDeps{
		Sessions:     sessions,
		CookieCodec:  codec,
		RateLimiter:  rateLimiter,
		Metrics:      collector,
		Logger:       slog.Default(),
		CookieSecure: cfg.CookieSecure,

		AuthService: authService,
		AuthConfig: handler.AuthHandlerConfig{
			CookieDomain:  cfg.CookieDomain,
			CookieSecure:  cfg.CookieSecure,
			SessionMaxAge: int(sessions.MaxAge().Seconds()),
		},

		Renderer: view.MustNewRenderer(),
		Static:   view.StaticHandler(),

		DB:             db,
		MetricsHandler: metrics.Handler(registry),
	})

	cleanupJob := cleanup.NewCleanupJob(store, collector, slog.Default())
	cleanupJob.Interval = cfg.SessionCleanupInterval

	return &server{
		handler:     router,
		cleanup:     cleanupJob,
		rateLimiter: rateLimiter,
	}
}

// runServe はWebサーバーモードで起動する。
// DB接続とマイグレーションの後にHTTPサーバーを起動し、
// ctxがキャンセルされるとグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config) error {
	// 1. DB接続
	db, err := openDB(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	// 2. スキーマを最新にする
	if err := runMigrate(cfg); err != nil {
		return err
	}

	// 3. 依存関係のワイヤリング
	srv := newServer(cfg, db)
	defer srv.close()

	// 4. 期限切れセッションの定期削除
	go srv.cleanup.Start(ctx)

	// 5. HTTPサーバーの起動
	httpServer := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      srv.handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server starting", slog.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server listen failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down HTTP server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("HTTP server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// PostgreSQLセッションストアの期限切れセッションを定期的に削除する。
// ctxがキャンセルされるまで実行を継続する。
func runWorker(ctx context.Context, cfg *config.Config) error {
	db, err := openDB(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	job := cleanup.NewCleanupJob(repository.NewPostgresSessionRepo(db), nil, slog.Default())
	job.Interval = cfg.SessionCleanupInterval

	// 起動直後に1回実行
	if err := job.Run(ctx); err != nil {
		slog.Error("cleanup job failed", slog.String("error", err.Error()))
	}

	job.Start(ctx)

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

	slog.Info("database migrations completed", slog.Uint64("version", uint64(version)))
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	target := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(target)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// healthcheckPort はconfig.Loadと同じ優先順（SERVER_PORT、PORT、8080）でポートを決める。
func healthcheckPort() string {
	for _, key := range []string{"SERVER_PORT", "PORT"} {
		if v := os.Getenv(key); v != "" {
			return v
		}
	}
	return "8080"
}

// openDB はDB接続プールを開き、疎通を確認する。
func openDB(ctx context.Context, databaseURL string) (*sql.DB, error) {
	db, err := database.Open(databaseURL)
	if err != nil {
		return nil, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")
	return db, nil
}

// maskDatabaseURL はデータベースURLのパスワードをマスクする。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	return u.Redacted()
}
