// Package model はドメインモデルを定義する。
package model

import "time"

// Page はクロール対象の公開ページを表す。
// 設定されたパスごとに1回だけ作成され、以後は不変として扱う。
type Page struct {
	ID        string
	RemoteID  string // Graph API上のページID
	Path      string // 設定ファイルに書かれたページパス（例: "tagesschau"）
	Name      string
	CreatedAt time.Time
}
