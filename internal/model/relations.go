package model

import "sort"

// IDSet はユーザーIDの集合。順序は持たず、重複は許さない。
type IDSet map[string]struct{}

// NewIDSet は指定IDを含むIDSetを生成する。
func NewIDSet(ids ...string) IDSet {
	s := make(IDSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

// Add はIDを追加する。集合が変化した場合にtrueを返す。
func (s IDSet) Add(id string) bool {
	if _, ok := s[id]; ok {
		return false
	}
	s[id] = struct{}{}
	return true
}

// Remove はIDを削除する。集合が変化した場合にtrueを返す。
func (s IDSet) Remove(id string) bool {
	if _, ok := s[id]; !ok {
		return false
	}
	delete(s, id)
	return true
}

// Contains はIDが含まれるかを返す。
func (s IDSet) Contains(id string) bool {
	_, ok := s[id]
	return ok
}

// Len は要素数を返す。
func (s IDSet) Len() int {
	return len(s)
}

// Sorted はIDを昇順に並べたスライスを返す。空集合でもnilではなく空スライスを返す。
func (s IDSet) Sorted() []string {
	ids := make([]string, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Clone はIDSetのコピーを返す。nilの場合は空集合を返す。
func (s IDSet) Clone() IDSet {
	c := make(IDSet, len(s))
	for id := range s {
		c[id] = struct{}{}
	}
	return c
}

// UserRelations はユーザーごとのフォロー関係レコード。
// FollowedUsers（自分がフォローしている）とFollowersList（自分をフォローしている）の
// 2つの非正規化された射影を持つ。
//
// 不変条件: B ∈ A.FollowedUsers ⇔ A ∈ B.FollowersList
type UserRelations struct {
	UserID        string
	FollowedUsers IDSet
	FollowersList IDSet
	// Version は楽観的排他制御用のバージョン。Putのたびに1増える。
	Version int64
}

// NewUserRelations は空のUserRelationsを生成する。
func NewUserRelations(userID string) *UserRelations {
	return &UserRelations{
		UserID:        userID,
		FollowedUsers: NewIDSet(),
		FollowersList: NewIDSet(),
	}
}

// Clone はディープコピーを返す。
func (r *UserRelations) Clone() *UserRelations {
	return &UserRelations{
		UserID:        r.UserID,
		FollowedUsers: r.FollowedUsers.Clone(),
		FollowersList: r.FollowersList.Clone(),
		Version:       r.Version,
	}
}
