// Package config はアプリケーション設定の読み込みを提供する。
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/birnbaum/racist-comment-generator/internal/sanitize"
)

// Config はアプリケーション全体の設定を保持する。
// 起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Pages は追跡対象のページパス。設定ファイルのリスト、または
	// カンマ区切りの環境変数 PAGES で指定する。
	Pages []string

	// StartDate は初回クロール時の投稿取得の下限日（YYYY-MM-DD）。
	StartDate time.Time

	// Graph API
	GraphBaseURL           string
	GraphVersion           string
	GraphAccessToken       string
	GraphAppID             string
	GraphAppSecret         string
	GraphTimeout           time.Duration
	GraphRequestsPerSecond float64

	// Crawl
	PostPageSize    int
	CommentPageSize int
	ReplyPageSize   int
	RetentionDays   int
	ExcludedHashtag string

	// Metrics は観測用リスナーのアドレス（例 ":9090"）。空なら起動しない。
	MetricsAddr string
}

// Load は設定ファイル（config.yaml）と環境変数からConfigを読み込む。
// 環境変数が設定ファイルより優先される。.envファイルがあれば先に読み込む。
// 必須項目が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	// .envはローカル開発用。存在しなくてもエラーにしない。
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("graph.base_url", "https://graph.facebook.com")
	v.SetDefault("graph.version", "v2.10")
	v.SetDefault("graph.timeout", "30s")
	v.SetDefault("graph.requests_per_second", 2.0)
	v.SetDefault("crawl.post_page_size", 100)
	v.SetDefault("crawl.comment_page_size", 100)
	v.SetDefault("crawl.reply_page_size", 500)
	v.SetDefault("crawl.retention_days", 30)
	v.SetDefault("crawl.excluded_hashtag", sanitize.DefaultExcludedHashtag)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{
		DatabaseURL:            v.GetString("database_url"),
		Pages:                  readPages(v),
		GraphBaseURL:           v.GetString("graph.base_url"),
		GraphVersion:           v.GetString("graph.version"),
		GraphAccessToken:       v.GetString("graph.access_token"),
		GraphAppID:             v.GetString("graph.app_id"),
		GraphAppSecret:         v.GetString("graph.app_secret"),
		GraphTimeout:           v.GetDuration("graph.timeout"),
		GraphRequestsPerSecond: v.GetFloat64("graph.requests_per_second"),
		PostPageSize:           v.GetInt("crawl.post_page_size"),
		CommentPageSize:        v.GetInt("crawl.comment_page_size"),
		ReplyPageSize:          v.GetInt("crawl.reply_page_size"),
		RetentionDays:          v.GetInt("crawl.retention_days"),
		ExcludedHashtag:        v.GetString("crawl.excluded_hashtag"),
		MetricsAddr:            v.GetString("metrics_addr"),
	}

	var missing []string
	if cfg.DatabaseURL == "" {
		missing = append(missing, "database_url")
	}
	if len(cfg.Pages) == 0 {
		missing = append(missing, "pages")
	}

	startDate := v.GetString("start_date")
	if startDate == "" {
		missing = append(missing, "start_date")
	} else {
		parsed, err := time.Parse("2006-01-02", startDate)
		if err != nil {
			return nil, fmt.Errorf("failed to parse start_date %q: %w", startDate, err)
		}
		cfg.StartDate = parsed
	}

	if cfg.GraphAccessToken == "" && (cfg.GraphAppID == "" || cfg.GraphAppSecret == "") {
		missing = append(missing, "graph.access_token (or graph.app_id + graph.app_secret)")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required configuration is not set: %v", missing)
	}

	return cfg, nil
}

// Retention はRetentionDaysをtime.Durationとして返す。
func (c *Config) Retention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

// readPages は設定ファイルのリストとカンマ区切り環境変数の両形式を受け付ける。
func readPages(v *viper.Viper) []string {
	raw := v.GetStringSlice("pages")
	if len(raw) == 1 && strings.Contains(raw[0], ",") {
		raw = strings.Split(raw[0], ",")
	}
	pages := make([]string, 0, len(raw))
	for _, p := range raw {
		p = strings.TrimSpace(p)
		if p != "" {
			pages = append(pages, p)
		}
	}
	return pages
}
