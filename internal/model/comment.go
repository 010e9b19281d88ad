// Package model はドメインモデルを定義する。
package model

import "time"

// Comment は投稿への返信を表す。
// ParentCommentIDが空でない場合はコメントへの返信（サブコメント）で、
// 必ず親コメントと同じ投稿に属する。返信の入れ子は1段まで。
// (post_id, remote_id) の一意制約で重複登録を防ぐ。
type Comment struct {
	ID              string
	UserID          string
	PostID          string
	PageID          string
	ParentCommentID string // トップレベルコメントの場合は空
	RemoteID        string
	CreatedTime     time.Time
	Message         string // サニタイズ済みテキスト
	LikeCount       int
	CommentCount    int
	CreatedAt       time.Time
}

// IsReply はこのコメントがサブコメント（返信）かどうかを返す。
func (c *Comment) IsReply() bool {
	return c.ParentCommentID != ""
}
