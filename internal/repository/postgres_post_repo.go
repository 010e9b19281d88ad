package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/birnbaum/racist-comment-generator/internal/model"
)

// PostgresPostRepo はPostgreSQLを使用した投稿リポジトリ。
type PostgresPostRepo struct {
	db *sql.DB
}

// NewPostgresPostRepo はPostgresPostRepoを生成する。
func NewPostgresPostRepo(db *sql.DB) *PostgresPostRepo {
	return &PostgresPostRepo{db: db}
}

// Create は投稿を作成する。一意制約違反の場合はmodel.ErrDuplicateEntityを返す。
// 1文のINSERTなのでPostgreSQL側で文単位にコミットまたはロールバックされ、
// 失敗時に部分的なレコードが残ることはない。
func (r *PostgresPostRepo) Create(ctx context.Context, post *model.Post) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO posts (id, page_id, remote_id, created_time, story, message, do_not_crawl, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		post.ID, post.PageID, post.RemoteID, post.CreatedTime,
		nullString(post.Story), nullString(post.Message), post.DoNotCrawl, post.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("post %q: %w", post.RemoteID, model.ErrDuplicateEntity)
		}
		return fmt.Errorf("failed to insert post: %w", err)
	}
	return nil
}

// LatestCreatedTime は指定ページの最新投稿のcreated_timeを返す。
// 投稿が1件もない場合はnilを返す。
func (r *PostgresPostRepo) LatestCreatedTime(ctx context.Context, pageID string) (*time.Time, error) {
	var latest sql.NullTime
	err := r.db.QueryRowContext(ctx,
		`SELECT max(created_time) FROM posts WHERE page_id = $1`,
		pageID,
	).Scan(&latest)
	if err != nil {
		return nil, fmt.Errorf("failed to query latest post time: %w", err)
	}
	if !latest.Valid {
		return nil, nil
	}
	return &latest.Time, nil
}

// ListCrawlable はdo_not_crawl=falseの投稿をcreated_time昇順で返す。
// 古い投稿から処理することでバックログの伸びを予測可能にする。
func (r *PostgresPostRepo) ListCrawlable(ctx context.Context) ([]*model.Post, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, page_id, remote_id, created_time, story, message, do_not_crawl, created_at
		 FROM posts
		 WHERE do_not_crawl = FALSE
		 ORDER BY created_time`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list crawlable posts: %w", err)
	}
	defer rows.Close()

	var posts []*model.Post
	for rows.Next() {
		post := &model.Post{}
		var story, message sql.NullString
		if err := rows.Scan(
			&post.ID, &post.PageID, &post.RemoteID, &post.CreatedTime,
			&story, &message, &post.DoNotCrawl, &post.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan post row: %w", err)
		}
		post.Story = nullStringValue(story)
		post.Message = nullStringValue(message)
		posts = append(posts, post)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate post rows: %w", err)
	}

	return posts, nil
}

// MarkDoNotCrawl は投稿をアーカイブ済みにする。
// 単調なフラグであり、falseへ戻すUPDATEは提供しない。
func (r *PostgresPostRepo) MarkDoNotCrawl(ctx context.Context, postID string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE posts SET do_not_crawl = TRUE WHERE id = $1`,
		postID,
	)
	if err != nil {
		return fmt.Errorf("failed to mark post as do-not-crawl: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("post not found: %s", postID)
	}
	return nil
}

// compile-time interface check
var _ PostRepository = (*PostgresPostRepo)(nil)
