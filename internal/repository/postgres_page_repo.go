package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/birnbaum/racist-comment-generator/internal/model"
)

// PostgresPageRepo はPostgreSQLを使用したページリポジトリ。
type PostgresPageRepo struct {
	db *sql.DB
}

// NewPostgresPageRepo はPostgresPageRepoを生成する。
func NewPostgresPageRepo(db *sql.DB) *PostgresPageRepo {
	return &PostgresPageRepo{db: db}
}

// FindByPath は設定パスでページを検索する。見つからない場合はnilを返す。
func (r *PostgresPageRepo) FindByPath(ctx context.Context, path string) (*model.Page, error) {
	page := &model.Page{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, remote_id, path, name, created_at FROM pages WHERE path = $1`,
		path,
	).Scan(&page.ID, &page.RemoteID, &page.Path, &page.Name, &page.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find page by path: %w", err)
	}

	return page, nil
}

// Create はページを作成する。
func (r *PostgresPageRepo) Create(ctx context.Context, page *model.Page) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO pages (id, remote_id, path, name, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		page.ID, page.RemoteID, page.Path, page.Name, page.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("page %q: %w", page.Path, model.ErrDuplicateEntity)
		}
		return fmt.Errorf("failed to insert page: %w", err)
	}
	return nil
}

// List は全ページを作成順で返す。
func (r *PostgresPageRepo) List(ctx context.Context) ([]*model.Page, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, remote_id, path, name, created_at FROM pages ORDER BY created_at`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list pages: %w", err)
	}
	defer rows.Close()

	var pages []*model.Page
	for rows.Next() {
		page := &model.Page{}
		if err := rows.Scan(&page.ID, &page.RemoteID, &page.Path, &page.Name, &page.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan page row: %w", err)
		}
		pages = append(pages, page)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate page rows: %w", err)
	}

	return pages, nil
}

// compile-time interface check
var _ PageRepository = (*PostgresPageRepo)(nil)
