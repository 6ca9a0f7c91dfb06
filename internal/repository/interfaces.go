// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/hitoshi/followgraph/internal/model"
)

var (
	// ErrRelationsNotFound は指定ユーザーのリレーションレコードが存在しないことを表す。
	ErrRelationsNotFound = errors.New("relations record not found")

	// ErrVersionConflict はPut時にレコードのバージョンが読み込み時から変わっていたことを表す。
	ErrVersionConflict = errors.New("relations record version conflict")
)

// UserRepository はユーザーディレクトリの参照インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindIDByUsername はユーザー名からIDを解決する。見つからない場合は空文字を返す。
	FindIDByUsername(ctx context.Context, username string) (string, error)

	// FindUsernameByID はIDから現在のユーザー名を解決する。見つからない場合は空文字を返す。
	FindUsernameByID(ctx context.Context, id string) (string, error)
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)

	// DeleteExpired は期限切れのセッションを削除し、削除件数を返す。
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// RelationRepository はユーザーごとのリレーションレコードのストア。
// 単一レコードの読み書きのみアトミックで、複数レコードにまたがるトランザクションは提供しない。
type RelationRepository interface {
	// Get は指定ユーザーのレコードを取得する。存在しない場合はErrRelationsNotFoundを返す。
	// 返り値は呼び出し元が自由に変更してよいコピー。
	Get(ctx context.Context, userID string) (*model.UserRelations, error)

	// Put はレコードを置き換える。rel.Versionが保存済みのバージョンと一致しない場合は
	// ErrVersionConflictを返す。成功時の新しいバージョンを返し、relは変更しない。
	Put(ctx context.Context, rel *model.UserRelations) (int64, error)

	// ForEach は全レコードを順に走査する。fnがエラーを返した時点で中断する。
	ForEach(ctx context.Context, fn func(*model.UserRelations) error) error
}

// RoleRepository はユーザーとロールの対応の永続化インターフェース。
type RoleRepository interface {
	// HasRole はユーザーがロールを保持しているかを返す。
	HasRole(ctx context.Context, userID string, role model.Role) (bool, error)

	// AddRole はロールを付与する。既に保持している場合は何もしない。
	AddRole(ctx context.Context, userID string, role model.Role) error

	// RemoveRole はロールを剥奪する。保持していない場合は何もしない。
	RemoveRole(ctx context.Context, userID string, role model.Role) error

	// RolesOf はユーザーが保持している全ロールを返す。
	RolesOf(ctx context.Context, userID string) ([]model.Role, error)

	// ListHolders はロールを保持しているユーザーIDを昇順で返す。
	ListHolders(ctx context.Context, role model.Role) ([]string, error)
}
