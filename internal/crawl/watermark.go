// Package crawl はページ・投稿・コメントの増分クロール処理を提供する。
// ウォーターマーク計算、エンティティのアップサート、3フェーズの
// オーケストレーションを含む。
package crawl

import (
	"context"
	"fmt"
	"time"

	"github.com/birnbaum/racist-comment-generator/internal/repository"
)

// Window はリモートソースへ要求する半開の時間ウィンドウ [Since, Until) を表す。
// nilのフィールドはその方向に制限がないことを意味する。
// Since >= Until のウィンドウも正常に発行される（結果が空になるだけ）。
type Window struct {
	Since *time.Time
	Until *time.Time
}

// WatermarkResolver はエンティティごとのフェッチウィンドウを計算する。
// 「最後にクロールした位置」はプロセス内に保持せず、毎回ストアの
// max(created_time)から再計算する。ストアが唯一の再開カーソルである。
type WatermarkResolver struct {
	postRepo    repository.PostRepository
	commentRepo repository.CommentRepository
	startDate   time.Time
}

// NewWatermarkResolver はWatermarkResolverを生成する。
// startDateは永続化済みレコードが存在しないエンティティの下限になる。
func NewWatermarkResolver(
	postRepo repository.PostRepository,
	commentRepo repository.CommentRepository,
	startDate time.Time,
) *WatermarkResolver {
	return &WatermarkResolver{
		postRepo:    postRepo,
		commentRepo: commentRepo,
		startDate:   startDate,
	}
}

// PostWindow は指定ページの投稿フェッチウィンドウを返す。
// 下限は永続化済みの最新投稿時刻（なければ設定の開始日）、上限はランの
// 開始時に1回だけ計算されたcutoff。cutoffを引数で受け取るのは、長時間の
// ランでも全ページが同じ上限を共有するためである。
func (r *WatermarkResolver) PostWindow(ctx context.Context, pageID string, cutoff time.Time) (Window, error) {
	latest, err := r.postRepo.LatestCreatedTime(ctx, pageID)
	if err != nil {
		return Window{}, fmt.Errorf("failed to resolve post watermark: %w", err)
	}

	since := r.startDate
	if latest != nil {
		since = *latest
	}
	until := cutoff

	return Window{Since: &since, Until: &until}, nil
}

// CommentWindow は指定投稿のコメントフェッチウィンドウを返す。
// コメントがまだ1件もない場合は下限なし（全履歴）、上限は常になし。
func (r *WatermarkResolver) CommentWindow(ctx context.Context, postID string) (Window, error) {
	latest, err := r.commentRepo.LatestCreatedTime(ctx, postID)
	if err != nil {
		return Window{}, fmt.Errorf("failed to resolve comment watermark: %w", err)
	}

	return Window{Since: latest}, nil
}
