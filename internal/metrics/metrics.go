// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"database/sql"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector はクロールの進行状況をPrometheusメトリクスとして収集する。
// crawl.MetricsRecorderインターフェースを実装する。
type Collector struct {
	pagesDiscovered   prometheus.Counter
	postsInserted     prometheus.Counter
	postsDuplicate    prometheus.Counter
	postsArchived     prometheus.Counter
	commentsInserted  *prometheus.CounterVec
	commentsDuplicate prometheus.Counter
	commentsDiscarded prometheus.Counter
	runDuration       prometheus.Histogram
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		pagesDiscovered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "crawler_pages_discovered_total",
			Help: "新規に登録されたページの合計数",
		}),
		postsInserted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "crawler_posts_inserted_total",
			Help: "新規に保存された投稿の合計数",
		}),
		postsDuplicate: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "crawler_posts_duplicate_total",
			Help: "重複としてスキップされた投稿の合計数",
		}),
		postsArchived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "crawler_posts_archived_total",
			Help: "do_not_crawlに遷移した投稿の合計数",
		}),
		commentsInserted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crawler_comments_inserted_total",
			Help: "新規に保存されたコメントの合計数（kind=comment|reply）",
		}, []string{"kind"}),
		commentsDuplicate: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "crawler_comments_duplicate_total",
			Help: "重複としてスキップされたコメントの合計数",
		}),
		commentsDiscarded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "crawler_comments_discarded_total",
			Help: "サニタイズで破棄されたコメントの合計数",
		}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name: "crawler_run_duration_seconds",
			Help: "クロールラン全体の所要時間",
			// ランは数秒から数時間まで幅があるため対数的なバケットを使う
			Buckets: prometheus.ExponentialBuckets(1, 4, 8),
		}),
	}

	reg.MustRegister(
		c.pagesDiscovered,
		c.postsInserted,
		c.postsDuplicate,
		c.postsArchived,
		c.commentsInserted,
		c.commentsDuplicate,
		c.commentsDiscarded,
		c.runDuration,
	)

	return c
}

// RecordPageDiscovered はページ発見を記録する。
func (c *Collector) RecordPageDiscovered() {
	c.pagesDiscovered.Inc()
}

// RecordPostInserted は投稿の新規保存を記録する。
func (c *Collector) RecordPostInserted() {
	c.postsInserted.Inc()
}

// RecordPostDuplicate は投稿の重複スキップを記録する。
func (c *Collector) RecordPostDuplicate() {
	c.postsDuplicate.Inc()
}

// RecordPostArchived は投稿のアーカイブ遷移を記録する。
func (c *Collector) RecordPostArchived() {
	c.postsArchived.Inc()
}

// RecordCommentInserted はコメントの新規保存を記録する。
func (c *Collector) RecordCommentInserted(reply bool) {
	kind := "comment"
	if reply {
		kind = "reply"
	}
	c.commentsInserted.WithLabelValues(kind).Inc()
}

// RecordCommentDuplicate はコメントの重複スキップを記録する。
func (c *Collector) RecordCommentDuplicate() {
	c.commentsDuplicate.Inc()
}

// RecordCommentDiscarded はコメントの破棄を記録する。
func (c *Collector) RecordCommentDiscarded() {
	c.commentsDiscarded.Inc()
}

// RecordRunDuration はクロールランの所要時間を記録する。
func (c *Collector) RecordRunDuration(d time.Duration) {
	c.runDuration.Observe(d.Seconds())
}

// NewRouter は長時間のラン中に観測用に公開する/metricsと/healthのルーターを返す。
// クローラー自体はネットワークサーフェスを持たないため、このリスナーは
// 設定で有効化された場合のみ起動される。
func NewRouter(gatherer prometheus.Gatherer, db *sql.DB) http.Handler {
	r := chi.NewRouter()
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		if err := db.PingContext(req.Context()); err != nil {
			http.Error(w, "database unreachable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return r
}
