// Package model はドメインモデルを定義する。
package model

import "time"

// Post はページに投稿されたトップレベルの記事を表す。
// (page_id, remote_id) の一意制約で重複登録を防ぐ。
type Post struct {
	ID          string
	PageID      string
	RemoteID    string
	CreatedTime time.Time
	Story       string // 共有・アクティビティ系の投稿に付くテキスト（空の場合あり）
	Message     string // 投稿本文（空の場合あり）
	// DoNotCrawl はアーカイブ済みフラグ。trueになった投稿は以後の
	// コメント同期の対象から永久に外れる。falseへ戻すことはない。
	DoNotCrawl bool
	CreatedAt  time.Time
}
