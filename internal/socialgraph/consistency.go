package socialgraph

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/hitoshi/followgraph/internal/model"
	"github.com/hitoshi/followgraph/internal/repository"
)

// 非対称なフォロー関係がどちらの射影にだけ存在するか
const (
	SideFollowedUsersOnly = "followed_users_only"
	SideFollowersListOnly = "followers_list_only"
)

// RelationScanner は全リレーションレコードを走査できるストア。
type RelationScanner interface {
	ForEach(ctx context.Context, fn func(*model.UserRelations) error) error
}

// RelationReader は1ユーザーのリレーションレコードを読み込めるストア。
type RelationReader interface {
	Get(ctx context.Context, userID string) (*model.UserRelations, error)
}

// Asymmetry は片側の射影にしか記録されていないフォロー関係。
type Asymmetry struct {
	FollowerID string
	FollowedID string
	Side       string
}

type edge struct {
	follower string
	followed string
}

const (
	seenOnFollower uint8 = 1 << iota
	seenOnFollowed
)

// FindAsymmetries は全レコードを走査し、B ∈ A.FollowedUsers ⇔ A ∈ B.FollowersList
// が成り立たない関係を返す。結果はFollowerID、FollowedIDの順にソートされる。
// 相手側のレコードが存在しない参照(削除済みユーザーの残骸)は対象外とする。
// 修復は行わない。
func FindAsymmetries(ctx context.Context, store RelationScanner) ([]Asymmetry, error) {
	seen := make(map[edge]uint8)
	records := make(map[string]struct{})
	err := store.ForEach(ctx, func(rel *model.UserRelations) error {
		records[rel.UserID] = struct{}{}
		for followed := range rel.FollowedUsers {
			seen[edge{follower: rel.UserID, followed: followed}] |= seenOnFollower
		}
		for follower := range rel.FollowersList {
			seen[edge{follower: follower, followed: rel.UserID}] |= seenOnFollowed
		}
		return ctx.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("リレーションレコードの走査に失敗しました: %w", err)
	}

	var found []Asymmetry
	for e, bits := range seen {
		_, hasFollower := records[e.follower]
		_, hasFollowed := records[e.followed]
		if !hasFollower || !hasFollowed {
			continue
		}
		switch bits {
		case seenOnFollower:
			found = append(found, Asymmetry{FollowerID: e.follower, FollowedID: e.followed, Side: SideFollowedUsersOnly})
		case seenOnFollowed:
			found = append(found, Asymmetry{FollowerID: e.follower, FollowedID: e.followed, Side: SideFollowersListOnly})
		}
	}
	sortAsymmetries(found)
	return found, nil
}

// Recheck はfoundの各関係について両レコードを読み直し、今も非対称なものだけを返す。
// 走査中に進行していた書き込みによる一時的な非対称を除くために使う。
// どちらかのレコードが消えていた関係は除外する。
func Recheck(ctx context.Context, store RelationReader, found []Asymmetry) ([]Asymmetry, error) {
	var persistent []Asymmetry
	for _, a := range found {
		follower, err := store.Get(ctx, a.FollowerID)
		if errors.Is(err, repository.ErrRelationsNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("リレーションレコードの再読み込みに失敗しました: %w", err)
		}
		followed, err := store.Get(ctx, a.FollowedID)
		if errors.Is(err, repository.ErrRelationsNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("リレーションレコードの再読み込みに失敗しました: %w", err)
		}

		onFollower := follower.FollowedUsers.Contains(a.FollowedID)
		onFollowed := followed.FollowersList.Contains(a.FollowerID)
		switch {
		case onFollower && !onFollowed:
			persistent = append(persistent, Asymmetry{FollowerID: a.FollowerID, FollowedID: a.FollowedID, Side: SideFollowedUsersOnly})
		case !onFollower && onFollowed:
			persistent = append(persistent, Asymmetry{FollowerID: a.FollowerID, FollowedID: a.FollowedID, Side: SideFollowersListOnly})
		}
	}
	sortAsymmetries(persistent)
	return persistent, nil
}

func sortAsymmetries(found []Asymmetry) {
	sort.Slice(found, func(i, j int) bool {
		if found[i].FollowerID != found[j].FollowerID {
			return found[i].FollowerID < found[j].FollowerID
		}
		return found[i].FollowedID < found[j].FollowedID
	})
}
