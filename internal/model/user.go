// Package model はドメインモデルを定義する。
package model

import "time"

// User はコメントの投稿者を表す。
// コメントから初めて参照されたときに遅延作成され、remote_idで一意。
type User struct {
	ID        string
	RemoteID  string
	Name      string
	CreatedAt time.Time
}
