package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/birnbaum/racist-comment-generator/internal/model"
)

// PostgresCommentRepo はPostgreSQLを使用したコメントリポジトリ。
type PostgresCommentRepo struct {
	db *sql.DB
}

// NewPostgresCommentRepo はPostgresCommentRepoを生成する。
func NewPostgresCommentRepo(db *sql.DB) *PostgresCommentRepo {
	return &PostgresCommentRepo{db: db}
}

// Create はコメントを作成する。一意制約違反の場合はmodel.ErrDuplicateEntityを返す。
func (r *PostgresCommentRepo) Create(ctx context.Context, comment *model.Comment) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO comments
		   (id, user_id, post_id, page_id, parent_comment_id, remote_id,
		    created_time, message, like_count, comment_count, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		comment.ID, comment.UserID, comment.PostID, comment.PageID,
		nullString(comment.ParentCommentID), comment.RemoteID,
		comment.CreatedTime, comment.Message, comment.LikeCount, comment.CommentCount,
		comment.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("comment %q: %w", comment.RemoteID, model.ErrDuplicateEntity)
		}
		return fmt.Errorf("failed to insert comment: %w", err)
	}
	return nil
}

// LatestCreatedTime は指定投稿の最新コメントのcreated_timeを返す。
// コメントが1件もない場合はnilを返す。
func (r *PostgresCommentRepo) LatestCreatedTime(ctx context.Context, postID string) (*time.Time, error) {
	var latest sql.NullTime
	err := r.db.QueryRowContext(ctx,
		`SELECT max(created_time) FROM comments WHERE post_id = $1`,
		postID,
	).Scan(&latest)
	if err != nil {
		return nil, fmt.Errorf("failed to query latest comment time: %w", err)
	}
	if !latest.Valid {
		return nil, nil
	}
	return &latest.Time, nil
}

// compile-time interface check
var _ CommentRepository = (*PostgresCommentRepo)(nil)
