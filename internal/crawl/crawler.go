package crawl

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/birnbaum/racist-comment-generator/internal/graph"
	"github.com/birnbaum/racist-comment-generator/internal/model"
	"github.com/birnbaum/racist-comment-generator/internal/repository"
)

// GraphSource はリモートソースのインターフェース。
// 実装はinternal/graph.Client。テスト時はモックに差し替える。
type GraphSource interface {
	// Object は指定パスのオブジェクトディスクリプタを取得する。
	Object(ctx context.Context, path string) (*graph.Object, error)
	// Posts は親のpostsコレクションを遅延列挙するイテレータを返す。
	Posts(parentID string, opt graph.ConnectionOptions) graph.PostIterator
	// Comments は親のcommentsコレクションを遅延列挙するイテレータを返す。
	Comments(parentID string, opt graph.ConnectionOptions) graph.CommentIterator
}

// MetricsRecorder はクロールメトリクス収集のインターフェース。
type MetricsRecorder interface {
	RecordPageDiscovered()
	RecordPostInserted()
	RecordPostDuplicate()
	RecordPostArchived()
	RecordCommentInserted(reply bool)
	RecordCommentDuplicate()
	RecordCommentDiscarded()
	RecordRunDuration(d time.Duration)
}

// Config はクローラーの動作パラメータ。
type Config struct {
	// PagePaths は追跡対象のページパス。設定された順に処理される。
	PagePaths []string
	// PostPageSize は投稿フェッチの1ページあたりの件数上限。
	PostPageSize int
	// CommentPageSize はコメントフェッチの1ページあたりの件数上限。
	CommentPageSize int
	// ReplyPageSize はサブコメントフェッチの1ページあたりの件数上限。
	// 返信は数が多く浅いため、通常コメントより大きい値を使う。
	ReplyPageSize int
	// Retention はアーカイブ判定のしきい値。この期間より古い投稿は、
	// コメント走査が末尾まで到達したランでdo_not_crawlになる。
	Retention time.Duration
}

// commentFields はコメントフェッチで要求するフィールドの射影。
var commentFields = []string{
	"id", "message", "message_tags", "from", "created_time", "comment_count", "like_count",
}

// postFields は投稿フェッチで要求するフィールドの射影。
var postFields = []string{"id", "created_time", "story", "message"}

// orderChronological は古い順のソート指定。
const orderChronological = "chronological"

// Crawler は1回のランを3つの逐次フェーズで実行するオーケストレーター。
//
//	フェーズA: ページ発見（未知の設定パスをリモートで解決して登録）
//	フェーズB: 投稿同期（ページごとのウォーターマークから増分フェッチ）
//	フェーズC: コメント同期（投稿ごとに増分フェッチ、サブコメント展開、アーカイブ判定）
//
// 全処理は単一goroutineで直列に実行され、挿入は1件ごとにコミットされる。
// 途中で中断しても、次のランのウォーターマーク再計算が正確に続きから再開する。
type Crawler struct {
	cfg        Config
	source     GraphSource
	pageRepo   repository.PageRepository
	postRepo   repository.PostRepository
	watermarks *WatermarkResolver
	upserter   *EntityUpserter
	metrics    MetricsRecorder
	logger     *slog.Logger
	now        func() time.Time // テストから固定時刻を注入するために差し替え可能
}

// NewCrawler はCrawlerの新しいインスタンスを生成する。
func NewCrawler(
	cfg Config,
	source GraphSource,
	pageRepo repository.PageRepository,
	postRepo repository.PostRepository,
	watermarks *WatermarkResolver,
	upserter *EntityUpserter,
	metrics MetricsRecorder,
	logger *slog.Logger,
) *Crawler {
	return &Crawler{
		cfg:        cfg,
		source:     source,
		pageRepo:   pageRepo,
		postRepo:   postRepo,
		watermarks: watermarks,
		upserter:   upserter,
		metrics:    metrics,
		logger:     logger,
		now:        time.Now,
	}
}

// Run は1回のクロールを実行する。
// 投稿ウィンドウの上限「昨日」はここで1回だけ計算し、以降のフェーズへ
// 明示的に引き渡す。ランが長引いてもウィンドウ境界は動かない。
func (c *Crawler) Run(ctx context.Context) error {
	runStart := c.now()
	cutoff := runStart.AddDate(0, 0, -1) // 24時間未満の投稿はプラットフォーム側でまだ変化しうる

	c.logger.Info("crawl run starting",
		slog.Int("configured_pages", len(c.cfg.PagePaths)),
		slog.Time("post_window_cutoff", cutoff),
	)

	if err := c.discoverPages(ctx); err != nil {
		return fmt.Errorf("page discovery failed: %w", err)
	}
	if err := c.syncPosts(ctx, cutoff); err != nil {
		return fmt.Errorf("post sync failed: %w", err)
	}
	if err := c.syncComments(ctx, runStart); err != nil {
		return fmt.Errorf("comment sync failed: %w", err)
	}

	elapsed := c.now().Sub(runStart)
	c.metrics.RecordRunDuration(elapsed)
	c.logger.Info("crawl run completed",
		slog.Float64("duration_ms", float64(elapsed.Milliseconds())),
	)
	return nil
}

// discoverPages はフェーズA: 未知の設定パスをリモートで解決して登録する。
// 既知のパスはno-opで、再実行は冪等。
func (c *Crawler) discoverPages(ctx context.Context) error {
	for _, path := range c.cfg.PagePaths {
		existing, err := c.pageRepo.FindByPath(ctx, path)
		if err != nil {
			return err
		}
		if existing != nil {
			continue
		}

		obj, err := c.source.Object(ctx, path)
		if err != nil {
			return fmt.Errorf("failed to fetch page %q: %w", path, err)
		}

		page := &model.Page{
			ID:        uuid.New().String(),
			RemoteID:  obj.ID,
			Path:      path,
			Name:      obj.Name,
			CreatedAt: time.Now(),
		}
		if err := c.pageRepo.Create(ctx, page); err != nil {
			return err
		}
		c.metrics.RecordPageDiscovered()

		c.logger.Info("page discovered",
			slog.String("path", path),
			slog.String("name", obj.Name),
		)
	}
	return nil
}

// syncPosts はフェーズB: 全ページの投稿をウォーターマークから増分同期する。
func (c *Crawler) syncPosts(ctx context.Context, cutoff time.Time) error {
	pages, err := c.pageRepo.List(ctx)
	if err != nil {
		return err
	}

	for _, page := range pages {
		window, err := c.watermarks.PostWindow(ctx, page.ID, cutoff)
		if err != nil {
			return err
		}

		it := c.source.Posts(page.RemoteID, graph.ConnectionOptions{
			Fields:   postFields,
			Order:    orderChronological,
			Since:    window.Since,
			Until:    window.Until,
			PageSize: c.cfg.PostPageSize,
		})

		var inserted int
		for {
			rec, ok, err := it.Next(ctx)
			if err != nil {
				return fmt.Errorf("failed to fetch posts for page %q: %w", page.Path, err)
			}
			if !ok {
				break
			}

			wasInserted, err := c.upserter.InsertPost(ctx, page, rec)
			if err != nil {
				return err
			}
			if wasInserted {
				inserted++
				c.metrics.RecordPostInserted()
			} else {
				c.metrics.RecordPostDuplicate()
			}
		}

		c.logger.Info("page posts synced",
			slog.String("path", page.Path),
			slog.Int("new_posts", inserted),
		)
	}
	return nil
}

// syncComments はフェーズC: クロール対象の全投稿のコメントを増分同期する。
// 投稿は古い順に処理する。挿入に成功したトップレベルコメントが
// comment_count > 0 を報告した場合のみ、直後にそのコメントの返信を展開する
// （深さ1の明示的な2段ループ。リモートAPI自体が返信を1段しか公開しない）。
func (c *Crawler) syncComments(ctx context.Context, runStart time.Time) error {
	posts, err := c.postRepo.ListCrawlable(ctx)
	if err != nil {
		return err
	}

	archiveThreshold := runStart.Add(-c.cfg.Retention)
	var totalInserted int

	for _, post := range posts {
		window, err := c.watermarks.CommentWindow(ctx, post.ID)
		if err != nil {
			return err
		}

		it := c.source.Comments(post.RemoteID, graph.ConnectionOptions{
			Fields:   commentFields,
			Order:    orderChronological,
			Since:    window.Since,
			PageSize: c.cfg.CommentPageSize,
		})

		for {
			rec, ok, err := it.Next(ctx)
			if err != nil {
				return fmt.Errorf("failed to fetch comments for post %q: %w", post.RemoteID, err)
			}
			if !ok {
				break
			}

			comment, outcome, err := c.upserter.InsertComment(ctx, post, rec, "")
			if err != nil {
				return err
			}
			switch outcome {
			case OutcomeDuplicate:
				c.metrics.RecordCommentDuplicate()
				continue // 既知のコメントの返信は展開しない
			case OutcomeDiscarded:
				c.metrics.RecordCommentDiscarded()
				continue
			}
			totalInserted++
			c.metrics.RecordCommentInserted(false)

			if rec.CommentCount > 0 {
				n, err := c.syncReplies(ctx, post, rec.ID, comment.ID)
				if err != nil {
					return err
				}
				totalInserted += n
			}
		}

		// ここに到達した時点でこの投稿のコメント走査はページネーションの
		// 末尾まで完了している。保持期間より厳密に古い投稿だけをアーカイブする
		// （しきい値ちょうどの投稿はクロール対象のまま）。
		if post.CreatedTime.Before(archiveThreshold) {
			if err := c.postRepo.MarkDoNotCrawl(ctx, post.ID); err != nil {
				return err
			}
			c.metrics.RecordPostArchived()
			c.logger.Info("post archived",
				slog.String("post_remote_id", post.RemoteID),
				slog.Time("post_created_time", post.CreatedTime),
			)
		}
	}

	c.logger.Info("comment sync completed",
		slog.Int("crawlable_posts", len(posts)),
		slog.Int("new_comments", totalInserted),
	)
	return nil
}

// syncReplies は挿入直後のトップレベルコメントの返信を展開する。
// 下限なしの古い順で全件を取得し、parent_commentを親の内部IDに
// 固定して挿入する。返信の返信はフェッチしない。
func (c *Crawler) syncReplies(ctx context.Context, post *model.Post, parentRemoteID, parentCommentID string) (int, error) {
	it := c.source.Comments(parentRemoteID, graph.ConnectionOptions{
		Fields:   commentFields,
		Order:    orderChronological,
		PageSize: c.cfg.ReplyPageSize,
	})

	var inserted int
	for {
		rec, ok, err := it.Next(ctx)
		if err != nil {
			return inserted, fmt.Errorf("failed to fetch replies for comment %q: %w", parentRemoteID, err)
		}
		if !ok {
			return inserted, nil
		}

		_, outcome, err := c.upserter.InsertComment(ctx, post, rec, parentCommentID)
		if err != nil {
			return inserted, err
		}
		switch outcome {
		case OutcomeInserted:
			inserted++
			c.metrics.RecordCommentInserted(true)
		case OutcomeDuplicate:
			c.metrics.RecordCommentDuplicate()
		case OutcomeDiscarded:
			c.metrics.RecordCommentDiscarded()
		}
	}
}
