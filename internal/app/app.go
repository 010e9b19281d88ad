// Package app はアプリケーションの起動とワイヤリングを提供する。
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/birnbaum/racist-comment-generator/internal/config"
	"github.com/birnbaum/racist-comment-generator/internal/crawl"
	"github.com/birnbaum/racist-comment-generator/internal/database"
	"github.com/birnbaum/racist-comment-generator/internal/graph"
	"github.com/birnbaum/racist-comment-generator/internal/logger"
	"github.com/birnbaum/racist-comment-generator/internal/metrics"
	"github.com/birnbaum/racist-comment-generator/internal/repository"
	"github.com/birnbaum/racist-comment-generator/internal/sanitize"
	"github.com/birnbaum/racist-comment-generator/internal/security"
)

// Init はアプリケーションの初期化を行う。
// 設定を読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 設定ファイルと環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.Int("configured_pages", len(cfg.Pages)),
	)

	switch cmd {
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runCrawl(cfg)
	}
}

// runCrawl はクロールを1回実行して終了する。
// DB接続を開き、全依存関係をワイヤリングし、クローラーのRunを呼ぶ。
// SIGINTまたはSIGTERMシグナルを受信するとコンテキストをキャンセルし、
// 実行中のフェッチを中断する（挿入は1件ごとにコミット済みのため、
// 次のランがウォーターマークから続きを再開する）。
func runCrawl(cfg *config.Config) error {
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
	pageRepo := repository.NewPostgresPageRepo(db)
	postRepo := repository.NewPostgresPostRepo(db)
	userRepo := repository.NewPostgresUserRepo(db)
	commentRepo := repository.NewPostgresCommentRepo(db)

	// 3. セキュリティサービスの初期化
	guard := security.NewEndpointGuard()
	if err := guard.ValidateEndpoint(cfg.GraphBaseURL); err != nil {
		return fmt.Errorf("unsafe graph endpoint: %w", err)
	}
	httpClient := guard.NewSafeClient(cfg.GraphTimeout)

	// シグナルでキャンセルされるランのルートコンテキスト
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// 4. アクセストークンの解決
	// 固定トークンが未設定の場合はapp_id/app_secretからブートストラップする。
	accessToken := cfg.GraphAccessToken
	if accessToken == "" {
		accessToken, err = graph.AppAccessToken(
			ctx, httpClient, cfg.GraphBaseURL, cfg.GraphVersion,
			cfg.GraphAppID, cfg.GraphAppSecret,
		)
		if err != nil {
			return fmt.Errorf("failed to obtain app access token: %w", err)
		}
		slog.Info("app access token obtained")
	}

	// 5. Graphクライアントとドメインサービスの初期化
	client := graph.NewClient(
		httpClient, slog.Default(),
		cfg.GraphBaseURL, cfg.GraphVersion, accessToken,
		cfg.GraphRequestsPerSecond,
	)
	sanitizer := sanitize.NewMessageSanitizer(cfg.ExcludedHashtag)
	watermarks := crawl.NewWatermarkResolver(postRepo, commentRepo, cfg.StartDate)
	upserter := crawl.NewEntityUpserter(userRepo, postRepo, commentRepo, sanitizer, slog.Default())

	// 6. メトリクスの初期化
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	// 観測用リスナーは設定された場合のみ起動する
	if cfg.MetricsAddr != "" {
		opsServer := &http.Server{
			Addr:        cfg.MetricsAddr,
			Handler:     metrics.NewRouter(registry, db),
			ReadTimeout: 15 * time.Second,
		}
		go func() {
			slog.Info("metrics listener starting", slog.String("addr", cfg.MetricsAddr))
			if err := opsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("metrics listener error", slog.String("error", err.Error()))
			}
		}()
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			_ = opsServer.Shutdown(shutdownCtx)
		}()
	}

	// 7. クローラーの実行
	crawler := crawl.NewCrawler(
		crawl.Config{
			PagePaths:       cfg.Pages,
			PostPageSize:    cfg.PostPageSize,
			CommentPageSize: cfg.CommentPageSize,
			ReplyPageSize:   cfg.ReplyPageSize,
			Retention:       cfg.Retention(),
		},
		client, pageRepo, postRepo, watermarks, upserter, collector, slog.Default(),
	)

	if err := crawler.Run(ctx); err != nil {
		if ctx.Err() != nil {
			slog.Info("crawl interrupted by signal")
			return nil
		}
		return fmt.Errorf("crawl failed: %w", err)
	}

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

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
