package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/birnbaum/racist-comment-generator/internal/model"
)

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

// FindByRemoteID はリモートIDでユーザーを検索する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByRemoteID(ctx context.Context, remoteID string) (*model.User, error) {
	user := &model.User{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, remote_id, name, created_at FROM users WHERE remote_id = $1`,
		remoteID,
	).Scan(&user.ID, &user.RemoteID, &user.Name, &user.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by remote ID: %w", err)
	}

	return user, nil
}

// Create はユーザーを作成する。remote_idの一意制約違反の場合は
// model.ErrDuplicateEntityを返す。
func (r *PostgresUserRepo) Create(ctx context.Context, user *model.User) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (id, remote_id, name, created_at)
		 VALUES ($1, $2, $3, $4)`,
		user.ID, user.RemoteID, user.Name, user.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("user %q: %w", user.RemoteID, model.ErrDuplicateEntity)
		}
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
