// Package graph はGraph API形式のリモートソースへのクライアントを提供する。
// 親オブジェクトの子コレクションをページネーション付きで遅延列挙する。
package graph

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// timeFormat はGraph APIが返すタイムスタンプの形式。
// RFC3339と異なりタイムゾーンオフセットにコロンを含まない。
const timeFormat = "2006-01-02T15:04:05-0700"

// Time はGraph APIのタイムスタンプをデコードするための型。
type Time struct {
	time.Time
}

// UnmarshalJSON はGraph API形式とRFC3339の両方を受け付ける。
func (t *Time) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		t.Time = time.Time{}
		return nil
	}
	parsed, err := time.Parse(timeFormat, s)
	if err != nil {
		parsed, err = time.Parse(time.RFC3339, s)
		if err != nil {
			return fmt.Errorf("failed to parse graph timestamp %q: %w", s, err)
		}
	}
	t.Time = parsed
	return nil
}

// Object はfetchObjectで取得するオブジェクトのディスクリプタ（ページ等）。
type Object struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Author はコメントのfromフィールドに含まれる投稿者情報。
type Author struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// MessageTag はメッセージ本文中でリンクされたユーザーやページを表す。
type MessageTag struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Type   string `json:"type"`
	Offset int    `json:"offset"`
	Length int    `json:"length"`
}

// Post はpostsコレクションのレコード。
type Post struct {
	ID          string `json:"id"`
	CreatedTime Time   `json:"created_time"`
	Story       string `json:"story"`
	Message     string `json:"message"`
}

// Comment はcommentsコレクションのレコード。サブコメントも同じ形。
type Comment struct {
	ID           string       `json:"id"`
	Message      string       `json:"message"`
	MessageTags  []MessageTag `json:"message_tags"`
	From         *Author      `json:"from"`
	CreatedTime  Time         `json:"created_time"`
	CommentCount int          `json:"comment_count"`
	LikeCount    int          `json:"like_count"`
}

// ConnectionOptions は子コレクション取得時のフィルタパラメータ。
type ConnectionOptions struct {
	// Fields は取得するフィールドの射影。空の場合はfieldsパラメータを送らない。
	Fields []string
	// Order は並び順（例: "chronological"）。空の場合は送らない。
	Order string
	// Since は半開ウィンドウの下限。nilの場合は下限なし（全履歴）。
	Since *time.Time
	// Until は半開ウィンドウの上限。nilの場合は上限なし。
	// Since >= Until のウィンドウも正常に発行され、結果が空になるだけである。
	Until *time.Time
	// PageSize は1ページあたりの取得件数上限。
	PageSize int
}

// PostIterator はpostsコレクションの遅延イテレータ。
// 2番目の戻り値がfalseになった時点でページネーションは尽きている。
type PostIterator interface {
	Next(ctx context.Context) (*Post, bool, error)
}

// CommentIterator はcommentsコレクションの遅延イテレータ。
type CommentIterator interface {
	Next(ctx context.Context) (*Comment, bool, error)
}

// APIError はGraph APIのエラーレスポンスを表す。
// 転送・認証・レート制限エラーはここに分類され、リトライせず呼び出し側へ伝播する。
type APIError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    int    `json:"code"`
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("graph API error (%s, code %d): %s", e.Type, e.Code, e.Message)
}
