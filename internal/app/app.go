// Package app はCLIの各サブコマンドと依存関係のワイヤリングを提供する。
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/hitoshi/followgraph/internal/auth"
	"github.com/hitoshi/followgraph/internal/cache"
	"github.com/hitoshi/followgraph/internal/config"
	"github.com/hitoshi/followgraph/internal/database"
	"github.com/hitoshi/followgraph/internal/events"
	"github.com/hitoshi/followgraph/internal/handler"
	"github.com/hitoshi/followgraph/internal/logger"
	"github.com/hitoshi/followgraph/internal/metrics"
	"github.com/hitoshi/followgraph/internal/middleware"
	"github.com/hitoshi/followgraph/internal/policy"
	"github.com/hitoshi/followgraph/internal/repository"
	"github.com/hitoshi/followgraph/internal/roles"
	"github.com/hitoshi/followgraph/internal/socialgraph"
	"github.com/hitoshi/followgraph/internal/tracing"
	"github.com/hitoshi/followgraph/internal/worker"
	"github.com/hitoshi/followgraph/internal/worker/audit"
	"github.com/hitoshi/followgraph/internal/worker/cleanup"
)

const serviceName = "followgraph"

// Version はビルド時に -ldflags "-X .../internal/app.Version=..." で上書きされる。
var Version = "dev"

const (
	shutdownTimeout = 30 * time.Second
	pingTimeout     = 5 * time.Second
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、LOG_LEVELに従ってJSON構造化ログをセットアップする。
func Init(w io.Writer) (*config.Config, error) {
	// 設定読み込み前にログを使えるようにする
	logger.SetupDefault(w, slog.LevelInfo)

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger.SetupDefault(w, logger.ParseLevel(cfg.LogLevel))
	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。argsにはos.Args[1:]を渡す。
// SIGINTまたはSIGTERMを受信するとコンテキストをキャンセルし、各モードを終了させる。
func Run(w io.Writer, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cmd := NewRootCommand(w)
	cmd.SetArgs(args)
	return cmd.ExecuteContext(ctx)
}

// withConfig は設定を読み込んでからfnを実行する。
func withConfig(w io.Writer, cmd Command, fn func(cfg *config.Config) error) error {
	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("version", Version),
		slog.String("port", cfg.ServerPort),
		slog.String("auth_mode", cfg.AuthMode),
	)
	return fn(cfg)
}

// infra はserveとworkerで共有する外部接続と横断的な依存。
type infra struct {
	db        *sql.DB
	registry  *prometheus.Registry
	metrics   *metrics.Collector
	publisher events.Publisher
	users     socialgraph.UserDirectory
	closers   []func()
}

// openInfra はDB、メトリクス、トレース、NATS、Redisを初期化する。
// NATSとRedisはURLが設定されている場合のみ接続する。
func openInfra(ctx context.Context, cfg *config.Config, w io.Writer) (_ *infra, err error) {
	in := &infra{}
	defer func() {
		if err != nil {
			in.Close()
		}
	}()

	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	in.db = db
	in.closers = append(in.closers, func() { db.Close() })

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	slog.Info("database connection established")

	// 2. メトリクス
	in.registry = prometheus.NewRegistry()
	in.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	in.metrics = metrics.NewCollector(in.registry)

	// 3. トレース
	shutdownTracing, err := tracing.Init(ctx, tracing.Config{
		ServiceName: serviceName,
		Version:     Version,
		Exporter:    cfg.TraceExporter,
	}, w)
	if err != nil {
		return nil, fmt.Errorf("failed to init tracing: %w", err)
	}
	in.closers = append(in.closers, func() {
		ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
		defer cancel()
		if err := shutdownTracing(ctx); err != nil {
			slog.Warn("failed to shutdown tracing", slog.String("error", err.Error()))
		}
	})

	// 4. イベント発行
	in.publisher = events.NopPublisher{}
	if cfg.NatsURL != "" {
		nc, err := events.Connect(cfg.NatsURL, serviceName)
		if err != nil {
			return nil, err
		}
		in.closers = append(in.closers, func() {
			if err := nc.Drain(); err != nil {
				slog.Warn("failed to drain nats connection", slog.String("error", err.Error()))
			}
		})
		in.publisher = events.NewNatsPublisher(nc)
		slog.Info("nats connection established")
	}

	// 5. ユーザーディレクトリ
	userRepo := repository.NewPostgresUserRepo(db)
	in.users = userRepo
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		client := redis.NewClient(opts)
		in.closers = append(in.closers, func() { client.Close() })
		in.users = cache.NewCachedUserDirectory(userRepo, client, cfg.UsernameCacheTTL)
		slog.Info("username cache enabled", slog.Duration("ttl", cfg.UsernameCacheTTL))
	}

	return in, nil
}

// Close は開いた接続を逆順に閉じる。
func (in *infra) Close() {
	for i := len(in.closers) - 1; i >= 0; i-- {
		in.closers[i]()
	}
	in.closers = nil
}

// newResolver はAUTH_MODEに応じた資格情報リゾルバを返す。
func newResolver(cfg *config.Config, sessions auth.SessionFinder, users auth.UserFinder) (auth.CredentialResolver, error) {
	switch cfg.AuthMode {
	case config.AuthModeSession:
		return auth.NewSessionResolver(sessions), nil
	case config.AuthModeJWT:
		return auth.NewJWTResolver([]byte(cfg.JWTSecret), cfg.JWTIssuer, users), nil
	default:
		return nil, fmt.Errorf("unsupported auth mode: %q", cfg.AuthMode)
	}
}

// loadPolicy はpathが空なら埋め込みのデフォルト、そうでなければファイルからポリシーを読み込む。
func loadPolicy(path string) (*policy.Policy, error) {
	if path == "" {
		return policy.Default()
	}
	p, err := policy.LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load policy %s: %w", path, err)
	}
	return p, nil
}

// runServe はAPIサーバーモードで起動する。
// 全依存関係をワイヤリングし、ctxがキャンセルされるとグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config, w io.Writer) error {
	pol, err := loadPolicy(cfg.PolicyFile)
	if err != nil {
		return err
	}

	in, err := openInfra(ctx, cfg, w)
	if err != nil {
		return err
	}
	defer in.Close()

	// リポジトリ
	relationRepo := repository.NewPostgresRelationRepo(in.db)
	roleRepo := repository.NewPostgresRoleRepo(in.db)
	sessionRepo := repository.NewPostgresSessionRepo(in.db)
	userRepo := repository.NewPostgresUserRepo(in.db)

	// ドメインサービス
	socialService := socialgraph.NewService(relationRepo, in.users, in.publisher, in.metrics, socialgraph.Config{
		AllowSelfFollow: cfg.AllowSelfFollow,
		MaxRetries:      cfg.GraphMaxRetries,
		StoreTimeout:    cfg.StoreTimeout,
	})
	roleService := roles.NewService(roleRepo, in.users, in.publisher, in.metrics)

	resolver, err := newResolver(cfg, sessionRepo, userRepo)
	if err != nil {
		return err
	}

	rateLimiter := middleware.NewRateLimiter(
		middleware.NewRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitMutation),
	)
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		Resolver:          resolver,
		RoleLister:        roleService,
		Policy:            pol,
		RateLimiter:       rateLimiter,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		Logger:            slog.Default(),
		Metrics:           in.metrics,
		DB:                in.db,
		MetricsHandler:    metrics.Handler(in.registry),
		SocialService:     socialService,
		RoleService:       roleService,
	})

	return serveUntilDone(ctx, newHTTPServer(cfg.ServerPort, router))
}

// runWorker はワーカーモードで起動する。
// 整合性監査と期限切れセッションの削除を定期実行し、/healthと/metricsを公開する。
func runWorker(ctx context.Context, cfg *config.Config, w io.Writer) error {
	in, err := openInfra(ctx, cfg, w)
	if err != nil {
		return err
	}
	defer in.Close()

	auditJob := audit.NewJob(repository.NewPostgresRelationRepo(in.db), slog.Default(), in.metrics, cfg.AuditRecheckDelay)
	cleanupJob := cleanup.NewCleanupJob(repository.NewPostgresSessionRepo(in.db), slog.Default(), in.metrics)

	r := chi.NewRouter()
	r.Get("/health", handler.NewHealthHandler(in.db).Health)
	r.Handle("/metrics", metrics.Handler(in.registry))

	slog.Info("worker starting",
		slog.Duration("audit_interval", cfg.AuditInterval),
		slog.Duration("cleanup_interval", cfg.CleanupInterval),
	)

	g, gctx := errgroup.WithContext(ctx)
	if cfg.AuditInterval > 0 {
		g.Go(func() error {
			worker.RunEvery(gctx, slog.Default(), auditJob, cfg.AuditInterval)
			return nil
		})
	}
	if cfg.CleanupInterval > 0 {
		g.Go(func() error {
			worker.RunEvery(gctx, slog.Default(), cleanupJob, cfg.CleanupInterval)
			return nil
		})
	}
	g.Go(func() error {
		return serveUntilDone(gctx, newHTTPServer(cfg.ServerPort, r))
	})

	err = g.Wait()
	slog.Info("worker stopped gracefully")
	return err
}

// runAudit は整合性監査を1回実行し、不整合の件数をoutに出力する。
func runAudit(ctx context.Context, cfg *config.Config, out io.Writer) error {
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	found, err := audit.NewJob(repository.NewPostgresRelationRepo(db), slog.Default(), nil, cfg.AuditRecheckDelay).RunOnce(ctx)
	if err != nil {
		return err
	}
	for _, a := range found {
		fmt.Fprintf(out, "%s\t%s\t%s\n", a.FollowerID, a.FollowedID, a.Side)
	}
	fmt.Fprintf(out, "inconsistent relations: %d\n", len(found))
	if len(found) > 0 {
		return ErrInconsistentRelations
	}
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// downが0の場合はすべての未適用マイグレーションを順番に適用し、正の場合はその件数だけ戻す。
func runMigrate(cfg *config.Config, down int) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
		slog.Int("down", down),
	)

	var err error
	if down > 0 {
		err = database.RollbackMigrations(cfg.DatabaseURL, down)
	} else {
		err = database.RunMigrations(cfg.DatabaseURL)
	}
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	version, err := database.SchemaVersion(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}
	slog.Info("database migrations completed successfully", slog.Uint64("version", uint64(version)))
	return nil
}

func newHTTPServer(port string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              ":" + port,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// serveUntilDone はサーバーを起動し、ctxがキャンセルされるとグレースフルシャットダウンする。
// 起動に失敗した場合はそのエラーを返す。
func serveUntilDone(ctx context.Context, server *http.Server) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("http server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server listen error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down http server...")

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		slog.Info("http server stopped gracefully")
		return nil
	})

	return g.Wait()
}

func healthcheckURL(port string) string {
	return fmt.Sprintf("http://localhost:%s/health", port)
}

// checkHealth は/healthにHTTPリクエストを送り、200以外ならエラーを返す。
func checkHealth(ctx context.Context, url string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
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
