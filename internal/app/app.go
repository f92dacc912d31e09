package app

import (
	"context"
	"database/sql"
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

	"github.com/hitoshi/bgremover/internal/activity"
	"github.com/hitoshi/bgremover/internal/archive"
	"github.com/hitoshi/bgremover/internal/auth"
	"github.com/hitoshi/bgremover/internal/bgremoval"
	"github.com/hitoshi/bgremover/internal/config"
	"github.com/hitoshi/bgremover/internal/database"
	"github.com/hitoshi/bgremover/internal/handler"
	"github.com/hitoshi/bgremover/internal/logger"
	"github.com/hitoshi/bgremover/internal/metrics"
	"github.com/hitoshi/bgremover/internal/middleware"
	"github.com/hitoshi/bgremover/internal/removebg"
	"github.com/hitoshi/bgremover/internal/repository"
	"github.com/hitoshi/bgremover/internal/result"
	"github.com/hitoshi/bgremover/internal/security"
	"github.com/hitoshi/bgremover/internal/staging"
	"github.com/hitoshi/bgremover/internal/upload"
	"github.com/hitoshi/bgremover/internal/user"
)

const (
	dbPingTimeout   = 5 * time.Second
	shutdownTimeout = 30 * time.Second
	// urlCheckTimeout は画像URLの事前確認（HEAD）のタイムアウト。
	urlCheckTimeout = 10 * time.Second
)

// Init はアプリケーションの初期化を行う。
// cmdに必要な環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer, cmd Command) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.LoadFor(cmd.configRole())
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
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		return runHealthcheck(healthcheckPort())
	}

	cfg, err := Init(w, cmd)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("upload_dir", cfg.UploadDir),
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

// openDatabase はDB接続を開き、疎通を確認する。
func openDatabase(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := database.Ping(ctx, db, dbPingTimeout); err != nil {
		db.Close()
		return nil, err
	}
	slog.Info("database connection established")
	return db, nil
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// ctxがキャンセルされる（SIGINT/SIGTERM）とグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config) error {
	// 1. DB接続
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	// 2. リポジトリの初期化
	userRepo := repository.NewPostgresUserRepo(db)
	activityRepo := repository.NewPostgresActivityRepo(db)

	// 3. メトリクス
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(registry)

	// 4. ドメインサービスの初期化
	recorder := activity.NewRecorder(userRepo, activityRepo, slog.Default())

	authService := auth.NewService(userRepo, recorder, security.NewTextSanitizer(), auth.ServiceConfig{
		JWTSecret: []byte(cfg.JWTSecret),
		TokenTTL:  cfg.JWTExpiry,
	})
	userService := user.NewService(userRepo, activityRepo)

	pipeline, store, err := newRemovalPipeline(ctx, cfg, recorder, collector, slog.Default())
	if err != nil {
		return err
	}

	// 5. ステージングのスイーパー
	sweeper := newSweeper(cfg, store, collector)
	go sweeper.Start(ctx, cfg.StagingSweepInterval)

	// 6. ルーターの構築
	rateLimiter := middleware.NewRateLimiter(
		middleware.RateLimiterConfigPerMinute(cfg.RateLimitGeneral, cfg.RateLimitRemoval),
	)
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		Authenticator:     authService,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		Logger:            slog.Default(),
		AuthService:       authService,
		UserService:       userService,
		Remover:           pipeline,
		DB:                db,
		MetricsHandler:    metrics.Handler(registry),
	})

	// 7. HTTPサーバーの起動
	// 書き込みタイムアウトは背景除去APIの待ち時間を含めて確保する
	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      cfg.RemoveBGTimeout + 60*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server listen error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	slog.Info("shutting down API server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// newRemovalPipeline は背景除去パイプラインとその一時ファイル置き場を構築する。
func newRemovalPipeline(
	ctx context.Context,
	cfg *config.Config,
	recorder bgremoval.ActivityRecorder,
	collector metrics.MetricsCollector,
	log *slog.Logger,
) (*bgremoval.Pipeline, *staging.Store, error) {
	store := staging.NewStore(cfg.UploadDir)
	if err := store.EnsureDir(); err != nil {
		return nil, nil, fmt.Errorf("failed to prepare upload directory: %w", err)
	}

	vendor, err := removebg.NewClient(cfg.RemoveBGAPIKey, &http.Client{Timeout: cfg.RemoveBGTimeout}, log, removebg.Options{
		Endpoint: cfg.RemoveBGEndpoint,
		Size:     cfg.RemoveBGSize,
		OnResponse: func(statusCode int, elapsed time.Duration) {
			collector.RecordVendorStatus(statusCode)
			collector.RecordVendorLatency(elapsed)
		},
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create remove.bg client: %w", err)
	}

	deps := bgremoval.Deps{
		Store:        store,
		Receiver:     upload.NewReceiver(store, cfg.MaxUploadSize, log),
		Vendor:       vendor,
		Materializer: result.NewMaterializer(store),
		Recorder:     recorder,
		Metrics:      collector,
		Logger:       log,
	}

	if cfg.AllowURLInput {
		deps.URLValidator = security.NewImageURLChecker(security.NewSSRFGuard(), urlCheckTimeout)
	}

	if cfg.ArchiveEnabled() {
		archiver, err := archive.NewS3Archiver(ctx, archive.Settings{
			Bucket:          cfg.ArchiveBucket,
			Region:          cfg.ArchiveRegion,
			Endpoint:        cfg.ArchiveEndpoint,
			AccessKeyID:     cfg.ArchiveAccessKeyID,
			SecretAccessKey: cfg.ArchiveSecretAccessKey,
			Prefix:          cfg.ArchivePrefix,
		}, log)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create archiver: %w", err)
		}
		deps.Archiver = archiver
		log.Info("processed image archive enabled", slog.String("bucket", cfg.ArchiveBucket))
	}

	return bgremoval.NewPipeline(deps), store, nil
}

// newSweeper はステージングディレクトリのスイーパーを生成する。
// collectorがnilの場合は削除件数をメトリクスに記録しない。
func newSweeper(cfg *config.Config, store *staging.Store, collector metrics.MetricsCollector) *staging.Sweeper {
	sweeper := staging.NewSweeper(store, slog.Default(), cfg.StagingMaxAge)
	if collector != nil {
		sweeper.OnSwept = collector.RecordSweptFiles
	}
	return sweeper
}

// runWorker はワーカーモードで起動する。
// アップロードディレクトリを共有するサイドカーとして、ステージングのスイーパーのみを実行する。
// ctxがキャンセルされる（SIGINT/SIGTERM）まで終了しない。
func runWorker(ctx context.Context, cfg *config.Config) error {
	store := staging.NewStore(cfg.UploadDir)
	if err := store.EnsureDir(); err != nil {
		return fmt.Errorf("failed to prepare upload directory: %w", err)
	}

	slog.Info("worker starting",
		slog.Duration("sweep_interval", cfg.StagingSweepInterval),
		slog.Duration("max_age", cfg.StagingMaxAge),
	)

	newSweeper(cfg, store, nil).Start(ctx, cfg.StagingSweepInterval)

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

// healthcheckPort はヘルスチェック先のポートを環境変数から決める。
func healthcheckPort() string {
	if port := os.Getenv("PORT"); port != "" {
		return port
	}
	if port := os.Getenv("SERVER_PORT"); port != "" {
		return port
	}
	return "8080"
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
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
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	if u.User != nil {
		u.User = url.User("***")
	}
	return u.Redacted()
}
