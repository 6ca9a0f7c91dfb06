package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/followgraph/internal/model"
)

// PostgresRoleRepo はPostgreSQLを使用したロールリポジトリ。
type PostgresRoleRepo struct {
	db *sql.DB
}

// NewPostgresRoleRepo はPostgresRoleRepoを生成する。
func NewPostgresRoleRepo(db *sql.DB) *PostgresRoleRepo {
	return &PostgresRoleRepo{db: db}
}

// HasRole はユーザーがロールを保持しているかを返す。
func (r *PostgresRoleRepo) HasRole(ctx context.Context, userID string, role model.Role) (bool, error) {
	var held bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM user_roles WHERE user_id = $1 AND role = $2)`,
		userID, string(role),
	).Scan(&held)
	if err != nil {
		return false, fmt.Errorf("failed to check role: %w", err)
	}
	return held, nil
}

// AddRole はロールを付与する。既に保持している場合は何もしない。
func (r *PostgresRoleRepo) AddRole(ctx context.Context, userID string, role model.Role) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO user_roles (user_id, role, granted_at)
		 VALUES ($1, $2, now())
		 ON CONFLICT (user_id, role) DO NOTHING`,
		userID, string(role),
	)
	if err != nil {
		return fmt.Errorf("failed to add role: %w", err)
	}
	return nil
}

// RemoveRole はロールを剥奪する。保持していない場合は何もしない。
func (r *PostgresRoleRepo) RemoveRole(ctx context.Context, userID string, role model.Role) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM user_roles WHERE user_id = $1 AND role = $2`,
		userID, string(role),
	)
	if err != nil {
		return fmt.Errorf("failed to remove role: %w", err)
	}
	return nil
}

// RolesOf はユーザーが保持している全ロールを返す。
func (r *PostgresRoleRepo) RolesOf(ctx context.Context, userID string) ([]model.Role, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT role FROM user_roles WHERE user_id = $1 ORDER BY role`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	defer rows.Close()

	roles := []model.Role{}
	for rows.Next() {
		var role string
		if err := rows.Scan(&role); err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		roles = append(roles, model.Role(role))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate roles: %w", err)
	}
	return roles, nil
}

// ListHolders はロールを保持しているユーザーIDを昇順で返す。
func (r *PostgresRoleRepo) ListHolders(ctx context.Context, role model.Role) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT user_id FROM user_roles WHERE role = $1 ORDER BY user_id::text`,
		string(role),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list role holders: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan role holder: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate role holders: %w", err)
	}
	return ids, nil
}

// compile-time interface check
var _ RoleRepository = (*PostgresRoleRepo)(nil)
