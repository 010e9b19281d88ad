package repository

import (
	"database/sql"
	"errors"

	"github.com/lib/pq"
)

// uniqueViolationCode はPostgreSQLの一意制約違反のSQLSTATEコード。
const uniqueViolationCode = "23505"

// isUniqueViolation はエラーが一意制約違反かどうかを判定する。
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == uniqueViolationCode
	}
	return false
}

// nullString は空文字列をNULLとして保存するためのヘルパー。
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// nullStringValue はsql.NullStringから値を取り出す。NULLの場合は空文字列を返す。
func nullStringValue(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}
