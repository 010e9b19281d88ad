// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// ErrDuplicateEntity は一意制約違反による挿入拒否を表すセンチネルエラー。
// クロール中に既知のレコードへ再び到達するのは正常系であり、
// 呼び出し側はerrors.Isで判定してロールバック済みとして扱う。
// オペレーターに致命的エラーとして報告してはならない。
var ErrDuplicateEntity = errors.New("duplicate entity")

// MalformedRecordError はリモートから取得したレコードに必須フィールドが
// 欠けていることを表す。部分的なレコードを黙って保存することはせず、
// 呼び出し側へ伝播してランを中断する。
type MalformedRecordError struct {
	Relation string // 取得元のコレクション名（例: "comments"）
	RemoteID string // レコードのリモートID（取得できた場合）
	Field    string // 欠けていたフィールド名
}

// Error はerrorインターフェースを実装する。
func (e *MalformedRecordError) Error() string {
	return fmt.Sprintf("malformed %s record %q: missing field %q", e.Relation, e.RemoteID, e.Field)
}
