// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/birnbaum/racist-comment-generator/internal/model"
)

// PageRepository はページデータの永続化インターフェース。
type PageRepository interface {
	// FindByPath は設定パスでページを検索する。見つからない場合はnilを返す。
	FindByPath(ctx context.Context, path string) (*model.Page, error)

	// Create はページを作成する。
	Create(ctx context.Context, page *model.Page) error

	// List は全ページを作成順で返す。
	List(ctx context.Context) ([]*model.Page, error)
}

// PostRepository は投稿データの永続化インターフェース。
type PostRepository interface {
	// Create は投稿を作成する。(page_id, remote_id) の一意制約に違反した場合は
	// model.ErrDuplicateEntityを返す。
	Create(ctx context.Context, post *model.Post) error

	// LatestCreatedTime は指定ページで永続化済みの投稿のうち最新のcreated_timeを返す。
	// 投稿が1件もない場合はnilを返す。
	LatestCreatedTime(ctx context.Context, pageID string) (*time.Time, error)

	// ListCrawlable はdo_not_crawl=falseの投稿をcreated_time昇順で返す。
	ListCrawlable(ctx context.Context) ([]*model.Post, error)

	// MarkDoNotCrawl は投稿をアーカイブ済みにする。falseへ戻す操作は存在しない。
	MarkDoNotCrawl(ctx context.Context, postID string) error
}

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByRemoteID はリモートIDでユーザーを検索する。見つからない場合はnilを返す。
	FindByRemoteID(ctx context.Context, remoteID string) (*model.User, error)

	// Create はユーザーを作成する。remote_idの一意制約に違反した場合は
	// model.ErrDuplicateEntityを返す。
	Create(ctx context.Context, user *model.User) error
}

// CommentRepository はコメントデータの永続化インターフェース。
type CommentRepository interface {
	// Create はコメントを作成する。(post_id, remote_id) の一意制約に違反した場合は
	// model.ErrDuplicateEntityを返す。
	Create(ctx context.Context, comment *model.Comment) error

	// LatestCreatedTime は指定投稿で永続化済みのコメントのうち最新のcreated_timeを返す。
	// コメントが1件もない場合はnilを返す。
	LatestCreatedTime(ctx context.Context, postID string) (*time.Time, error)
}
