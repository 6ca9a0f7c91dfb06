package repository

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"testing"
	"time"

	_ "github.com/lib/pq"

	"github.com/hitoshi/followgraph/internal/database"
	"github.com/hitoshi/followgraph/internal/model"
)

// PostgresXxxRepoが各インターフェースを満たすことを検証
func TestPostgresRepos_ImplementInterfaces(t *testing.T) {
	var _ UserRepository = (*PostgresUserRepo)(nil)
	var _ SessionRepository = (*PostgresSessionRepo)(nil)
	var _ RelationRepository = (*PostgresRelationRepo)(nil)
	var _ RoleRepository = (*PostgresRoleRepo)(nil)
}

func TestNewPostgresRepos_Initialize(t *testing.T) {
	if NewPostgresUserRepo(nil) == nil {
		t.Fatal("expected non-nil user repo")
	}
	if NewPostgresSessionRepo(nil) == nil {
		t.Fatal("expected non-nil session repo")
	}
	if NewPostgresRelationRepo(nil) == nil {
		t.Fatal("expected non-nil relation repo")
	}
	if NewPostgresRoleRepo(nil) == nil {
		t.Fatal("expected non-nil role repo")
	}
}

// setupPostgres はマイグレーション済みのテスト用DBを返す。
// TEST_DATABASE_URL が未設定の場合はスキップする。
func setupPostgres(t *testing.T) *sql.DB {
	t.Helper()
	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL が未設定のためスキップ")
	}

	db, err := database.Open(dbURL)
	if err != nil {
		t.Fatalf("データベースへの接続に失敗: %v", err)
	}
	if err := db.Ping(); err != nil {
		t.Skipf("テスト用データベースに接続できません（スキップ）: %v", err)
	}
	if err := database.RunMigrations(dbURL); err != nil {
		t.Fatalf("マイグレーション実行に失敗: %v", err)
	}
	if _, err := db.Exec(`TRUNCATE users CASCADE`); err != nil {
		t.Fatalf("クリーンアップに失敗: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func insertUser(t *testing.T, db *sql.DB, username string) string {
	t.Helper()
	var id string
	if err := db.QueryRow(`INSERT INTO users (username) VALUES ($1) RETURNING id`, username).Scan(&id); err != nil {
		t.Fatalf("ユーザー作成に失敗: %v", err)
	}
	return id
}

func TestPostgresRelationRepo_GetPut(t *testing.T) {
	db := setupPostgres(t)
	ctx := context.Background()
	repo := NewPostgresRelationRepo(db)

	alice := insertUser(t, db, "alice")
	bob := insertUser(t, db, "bob")

	rel, err := repo.Get(ctx, alice)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if rel.FollowedUsers.Len() != 0 || rel.Version != 0 {
		t.Fatalf("unexpected initial record: %+v", rel)
	}

	rel.FollowedUsers.Add(bob)
	v, err := repo.Put(ctx, rel)
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if v != 1 {
		t.Errorf("version = %d, want 1", v)
	}

	// 古いバージョンでのPutは競合になる
	if _, err := repo.Put(ctx, rel); !errors.Is(err, ErrVersionConflict) {
		t.Errorf("err = %v, want ErrVersionConflict", err)
	}

	stored, err := repo.Get(ctx, alice)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !stored.FollowedUsers.Contains(bob) {
		t.Error("followed_users should contain bob")
	}
}

func TestPostgresRelationRepo_Missing(t *testing.T) {
	db := setupPostgres(t)
	ctx := context.Background()
	repo := NewPostgresRelationRepo(db)

	missing := "00000000-0000-0000-0000-000000000000"
	if _, err := repo.Get(ctx, missing); !errors.Is(err, ErrRelationsNotFound) {
		t.Errorf("Get err = %v, want ErrRelationsNotFound", err)
	}
	if _, err := repo.Put(ctx, model.NewUserRelations(missing)); !errors.Is(err, ErrRelationsNotFound) {
		t.Errorf("Put err = %v, want ErrRelationsNotFound", err)
	}
}

func TestPostgresRelationRepo_ForEach(t *testing.T) {
	db := setupPostgres(t)
	repo := NewPostgresRelationRepo(db)

	insertUser(t, db, "u1")
	insertUser(t, db, "u2")
	insertUser(t, db, "u3")

	count := 0
	err := repo.ForEach(context.Background(), func(*model.UserRelations) error {
		count++
		return nil
	})
	if err != nil {
		t.Fatalf("ForEach failed: %v", err)
	}
	if count != 3 {
		t.Errorf("visited %d records, want 3", count)
	}
}

func TestPostgresUserRepo_Lookups(t *testing.T) {
	db := setupPostgres(t)
	ctx := context.Background()
	repo := NewPostgresUserRepo(db)

	id := insertUser(t, db, "carol")

	got, err := repo.FindIDByUsername(ctx, "carol")
	if err != nil || got != id {
		t.Errorf("FindIDByUsername = %q, %v; want %q", got, err, id)
	}
	name, err := repo.FindUsernameByID(ctx, id)
	if err != nil || name != "carol" {
		t.Errorf("FindUsernameByID = %q, %v; want carol", name, err)
	}
	if got, _ := repo.FindIDByUsername(ctx, "nobody"); got != "" {
		t.Errorf("unknown username resolved to %q", got)
	}
}

func TestPostgresRoleRepo_DefaultRoleAndTransitions(t *testing.T) {
	db := setupPostgres(t)
	ctx := context.Background()
	repo := NewPostgresRoleRepo(db)

	id := insertUser(t, db, "dave")

	held, err := repo.HasRole(ctx, id, model.RoleUser)
	if err != nil || !held {
		t.Fatalf("new user should hold USER: held=%v err=%v", held, err)
	}

	if err := repo.AddRole(ctx, id, model.RoleModerator); err != nil {
		t.Fatalf("AddRole failed: %v", err)
	}
	if err := repo.AddRole(ctx, id, model.RoleModerator); err != nil {
		t.Fatalf("AddRole should be idempotent: %v", err)
	}
	holders, err := repo.ListHolders(ctx, model.RoleModerator)
	if err != nil || len(holders) != 1 || holders[0] != id {
		t.Errorf("ListHolders = %v, %v", holders, err)
	}

	if err := repo.RemoveRole(ctx, id, model.RoleModerator); err != nil {
		t.Fatalf("RemoveRole failed: %v", err)
	}
	roles, err := repo.RolesOf(ctx, id)
	if err != nil || len(roles) != 1 || roles[0] != model.RoleUser {
		t.Errorf("RolesOf = %v, %v", roles, err)
	}
}

func TestPostgresSessionRepo_DeleteExpired(t *testing.T) {
	db := setupPostgres(t)
	ctx := context.Background()
	repo := NewPostgresSessionRepo(db)

	id := insertUser(t, db, "erin")
	now := time.Now()
	if _, err := db.Exec(
		`INSERT INTO sessions (id, user_id, expires_at) VALUES ('old', $1, $2), ('live', $1, $3)`,
		id, now.Add(-time.Hour), now.Add(time.Hour),
	); err != nil {
		t.Fatalf("セッション作成に失敗: %v", err)
	}

	n, err := repo.DeleteExpired(ctx, now)
	if err != nil {
		t.Fatalf("DeleteExpired failed: %v", err)
	}
	if n != 1 {
		t.Errorf("deleted %d sessions, want 1", n)
	}

	s, err := repo.FindByID(ctx, "live")
	if err != nil || s == nil || s.UserID != id {
		t.Errorf("live session lookup = %+v, %v", s, err)
	}
}
