package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/followgraph/internal/model"
)

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	user := &model.User{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, username, email, created_at, updated_at FROM users WHERE id = $1`,
		id,
	).Scan(&user.ID, &user.Username, &user.Email, &user.CreatedAt, &user.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by ID: %w", err)
	}

	return user, nil
}

// FindIDByUsername はユーザー名からIDを解決する。見つからない場合は空文字を返す。
func (r *PostgresUserRepo) FindIDByUsername(ctx context.Context, username string) (string, error) {
	var id string
	err := r.db.QueryRowContext(ctx,
		`SELECT id FROM users WHERE username = $1`,
		username,
	).Scan(&id)

	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to find user by username: %w", err)
	}
	return id, nil
}

// FindUsernameByID はIDから現在のユーザー名を解決する。見つからない場合は空文字を返す。
func (r *PostgresUserRepo) FindUsernameByID(ctx context.Context, id string) (string, error) {
	var username string
	err := r.db.QueryRowContext(ctx,
		`SELECT username FROM users WHERE id = $1`,
		id,
	).Scan(&username)

	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to find username by ID: %w", err)
	}
	return username, nil
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
