package repository

import (
	"context"
	"sort"
	"sync"

	"github.com/hitoshi/followgraph/internal/model"
)

// MemoryRelationRepo はプロセス内メモリ上のリレーションレコードのストア。
// Postgresと同じ楽観的排他制御の規約に従う。テストと単体起動用。
type MemoryRelationRepo struct {
	mu      sync.Mutex
	records map[string]*model.UserRelations
}

// NewMemoryRelationRepo はMemoryRelationRepoを生成する。
func NewMemoryRelationRepo() *MemoryRelationRepo {
	return &MemoryRelationRepo{records: make(map[string]*model.UserRelations)}
}

// Create は空のレコードを作成する。既に存在する場合は何もしない。
func (r *MemoryRelationRepo) Create(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.records[userID]; !ok {
		r.records[userID] = model.NewUserRelations(userID)
	}
}

// Seed はレコードをそのまま保存する。不整合な状態の再現に使う。
func (r *MemoryRelationRepo) Seed(rel *model.UserRelations) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[rel.UserID] = rel.Clone()
}

// Get は指定ユーザーのレコードのコピーを返す。
func (r *MemoryRelationRepo) Get(_ context.Context, userID string) (*model.UserRelations, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rel, ok := r.records[userID]
	if !ok {
		return nil, ErrRelationsNotFound
	}
	return rel.Clone(), nil
}

// Put はバージョンが一致する場合のみレコードを置き換える。
func (r *MemoryRelationRepo) Put(_ context.Context, rel *model.UserRelations) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.records[rel.UserID]
	if !ok {
		return 0, ErrRelationsNotFound
	}
	if cur.Version != rel.Version {
		return 0, ErrVersionConflict
	}
	next := rel.Clone()
	next.Version = cur.Version + 1
	r.records[rel.UserID] = next
	return next.Version, nil
}

// ForEach はuser_id順に全レコードのコピーを走査する。
func (r *MemoryRelationRepo) ForEach(_ context.Context, fn func(*model.UserRelations) error) error {
	r.mu.Lock()
	snapshot := make([]*model.UserRelations, 0, len(r.records))
	for _, rel := range r.records {
		snapshot = append(snapshot, rel.Clone())
	}
	r.mu.Unlock()

	sort.Slice(snapshot, func(i, j int) bool { return snapshot[i].UserID < snapshot[j].UserID })
	for _, rel := range snapshot {
		if err := fn(rel); err != nil {
			return err
		}
	}
	return nil
}

// MemoryUserRepo はプロセス内メモリ上のユーザーディレクトリ。
type MemoryUserRepo struct {
	mu    sync.RWMutex
	users map[string]*model.User
}

// NewMemoryUserRepo はMemoryUserRepoを生成する。
func NewMemoryUserRepo() *MemoryUserRepo {
	return &MemoryUserRepo{users: make(map[string]*model.User)}
}

// Add はユーザーを登録する。同じIDが存在する場合はユーザー名を上書きする。
func (r *MemoryUserRepo) Add(id, username string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[id] = &model.User{ID: id, Username: username}
}

// Remove はユーザーを削除する。
func (r *MemoryUserRepo) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.users, id)
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *MemoryUserRepo) FindByID(_ context.Context, id string) (*model.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.users[id]
	if !ok {
		return nil, nil
	}
	copied := *u
	return &copied, nil
}

// FindIDByUsername はユーザー名からIDを解決する。
func (r *MemoryUserRepo) FindIDByUsername(_ context.Context, username string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for id, u := range r.users {
		if u.Username == username {
			return id, nil
		}
	}
	return "", nil
}

// FindUsernameByID はIDから現在のユーザー名を解決する。
func (r *MemoryUserRepo) FindUsernameByID(_ context.Context, id string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if u, ok := r.users[id]; ok {
		return u.Username, nil
	}
	return "", nil
}

// MemoryRoleRepo はプロセス内メモリ上のロールリポジトリ。
type MemoryRoleRepo struct {
	mu    sync.RWMutex
	roles map[string]map[model.Role]struct{}
}

// NewMemoryRoleRepo はMemoryRoleRepoを生成する。
func NewMemoryRoleRepo() *MemoryRoleRepo {
	return &MemoryRoleRepo{roles: make(map[string]map[model.Role]struct{})}
}

// HasRole はユーザーがロールを保持しているかを返す。
func (r *MemoryRoleRepo) HasRole(_ context.Context, userID string, role model.Role) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.roles[userID][role]
	return ok, nil
}

// AddRole はロールを付与する。
func (r *MemoryRoleRepo) AddRole(_ context.Context, userID string, role model.Role) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	held, ok := r.roles[userID]
	if !ok {
		held = make(map[model.Role]struct{})
		r.roles[userID] = held
	}
	held[role] = struct{}{}
	return nil
}

// RemoveRole はロールを剥奪する。
func (r *MemoryRoleRepo) RemoveRole(_ context.Context, userID string, role model.Role) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.roles[userID], role)
	return nil
}

// RolesOf はユーザーが保持している全ロールを名前順で返す。
func (r *MemoryRoleRepo) RolesOf(_ context.Context, userID string) ([]model.Role, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	roles := []model.Role{}
	for role := range r.roles[userID] {
		roles = append(roles, role)
	}
	sort.Slice(roles, func(i, j int) bool { return roles[i] < roles[j] })
	return roles, nil
}

// ListHolders はロールを保持しているユーザーIDを昇順で返す。
func (r *MemoryRoleRepo) ListHolders(_ context.Context, role model.Role) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := []string{}
	for id, held := range r.roles {
		if _, ok := held[role]; ok {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// compile-time interface check
var (
	_ RelationRepository = (*MemoryRelationRepo)(nil)
	_ UserRepository     = (*MemoryUserRepo)(nil)
	_ RoleRepository     = (*MemoryRoleRepo)(nil)
)
