package socialgraph

import (
	"context"
	"errors"
	"log/slog"

	"github.com/hitoshi/followgraph/internal/model"
	"github.com/hitoshi/followgraph/internal/repository"
)

// edgeOp はフォロー関係1本を、両レコード上で目標の状態(present)へ揃える操作を表す。
type edgeOp struct {
	name    string
	failure string
	present bool

	// check は両レコードを読み込んだ後、変更前に呼ばれる事前条件。
	check func(follower, followed *model.UserRelations) error
}

var followEdge = edgeOp{
	name:    "follow",
	failure: "Could not follow user",
	present: true,
}

var unfollowEdge = edgeOp{
	name:    "unfollow",
	failure: "Could not unfollow user",
	present: false,
	check: func(follower, followed *model.UserRelations) error {
		onFollower := follower.FollowedUsers.Contains(followed.UserID)
		onFollowed := followed.FollowersList.Contains(follower.UserID)
		switch {
		case !onFollower && !onFollowed:
			return model.NewNotFollowingError()
		case onFollower != onFollowed:
			return model.NewRelationInconsistentError(follower.UserID, followed.UserID)
		}
		return nil
	},
}

// setFollowerSide はフォローする側のfollowed_usersを目標の状態にする。変化した場合にtrueを返す。
func setFollowerSide(follower *model.UserRelations, followedID string, present bool) bool {
	if present {
		return follower.FollowedUsers.Add(followedID)
	}
	return follower.FollowedUsers.Remove(followedID)
}

// setFollowedSide はフォローされる側のfollowers_listを目標の状態にする。変化した場合にtrueを返す。
func setFollowedSide(followed *model.UserRelations, followerID string, present bool) bool {
	if present {
		return followed.FollowersList.Add(followerID)
	}
	return followed.FollowersList.Remove(followerID)
}

// transition はopを両レコードに適用して保存する。いずれかのレコードが変化した場合にtrueを返す。
//
// 手順:
//  1. フォローする側、フォローされる側の順にバージョン付きで読み込む
//  2. どちらかが変化する場合は、変化の無い側も含めて両レコードをこの順に書き込む
//  3. どちらかの書き込みが競合した場合は1からやり直す
//  4. フォローする側だけが書き込まれたまま失敗した場合は、フォローされる側に合わせて補償する
//
// 変更時は必ず両レコードのバージョンが進むため、同じペアへの並行操作は
// 一方の読み込みから書き込みまでの間に他方の書き込みが入ると必ず競合として検出される。
// 自分の書き込みが片側に残った状態でのやり直しでは事前条件を再検査しない。
func (s *Service) transition(ctx context.Context, op edgeOp, followerID, followedID string) (bool, error) {
	if followerID == followedID {
		return s.transitionSelf(ctx, op, followerID)
	}

	partial := false
	for attempt := 0; ; attempt++ {
		follower, err := s.load(ctx, followerID)
		if err != nil {
			return s.abort(ctx, op, partial, followerID, followedID, err)
		}
		followed, err := s.load(ctx, followedID)
		if err != nil {
			return s.abort(ctx, op, partial, followerID, followedID, err)
		}
		if !partial {
			if err := s.checkPrecondition(op, follower, followed); err != nil {
				return false, err
			}
		}

		followerChanged := setFollowerSide(follower, followedID, op.present)
		followedChanged := setFollowedSide(followed, followerID, op.present)
		if !partial && !followerChanged && !followedChanged {
			return false, nil
		}

		for i, rel := range []*model.UserRelations{follower, followed} {
			_, err = s.store.Put(ctx, rel)
			if err != nil {
				break
			}
			if i == 0 {
				partial = true
			}
		}
		if err == nil {
			return true, nil
		}
		if errors.Is(err, repository.ErrVersionConflict) && attempt < s.cfg.MaxRetries {
			s.metrics.RecordVersionConflict(op.name)
			continue
		}
		return s.abort(ctx, op, partial, followerID, followedID, storeFailure(op, err))
	}
}

// abort は失敗を返す前に、フォローする側だけに残った書き込みを補償する。
func (s *Service) abort(ctx context.Context, op edgeOp, partial bool, followerID, followedID string, err error) (bool, error) {
	if partial {
		s.compensate(ctx, op, followerID, followedID)
	}
	return false, err
}

// compensate はフォローする側のfollowed_usersを、フォローされる側のfollowers_listの
// 現在の状態に合わせる。他の操作が書き込んでいなければ自分の変更を取り消すことになる。
// 呼び出し元のコンテキストが切れていても実行し、失敗した場合は不整合として記録する。
func (s *Service) compensate(ctx context.Context, op edgeOp, followerID, followedID string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.StoreTimeout)
	defer cancel()

	var lastErr error
	for attempt := 0; attempt <= s.cfg.MaxRetries; attempt++ {
		followed, err := s.store.Get(ctx, followedID)
		if err != nil {
			lastErr = err
			break
		}
		follower, err := s.store.Get(ctx, followerID)
		if err != nil {
			lastErr = err
			break
		}
		if !setFollowerSide(follower, followedID, followed.FollowersList.Contains(followerID)) {
			s.metrics.RecordCompensation(op.name, true)
			return
		}
		_, err = s.store.Put(ctx, follower)
		if err == nil {
			slog.Warn("片側の書き込み失敗のためフォローする側をフォローされる側に合わせました",
				slog.String("operation", op.name),
				slog.String("follower_id", followerID),
				slog.String("followed_id", followedID),
			)
			s.metrics.RecordCompensation(op.name, true)
			return
		}
		lastErr = err
		if !errors.Is(err, repository.ErrVersionConflict) {
			break
		}
	}

	s.metrics.RecordCompensation(op.name, false)
	s.metrics.RecordConsistencyViolation(op.name)
	attrs := []any{
		slog.String("operation", op.name),
		slog.String("follower_id", followerID),
		slog.String("followed_id", followedID),
	}
	if lastErr != nil {
		attrs = append(attrs, slog.String("error", lastErr.Error()))
	}
	slog.Error("補償処理に失敗しました。フォロー関係が片側のみに残っています", attrs...)
}

// transitionSelf は自分自身へのフォロー関係を1レコードの書き込みで処理する。
func (s *Service) transitionSelf(ctx context.Context, op edgeOp, userID string) (bool, error) {
	for attempt := 0; ; attempt++ {
		rel, err := s.load(ctx, userID)
		if err != nil {
			return false, err
		}
		if err := s.checkPrecondition(op, rel, rel); err != nil {
			return false, err
		}

		changedFollower := setFollowerSide(rel, userID, op.present)
		changedFollowed := setFollowedSide(rel, userID, op.present)
		if !changedFollower && !changedFollowed {
			return false, nil
		}

		if _, err := s.store.Put(ctx, rel); err != nil {
			if errors.Is(err, repository.ErrVersionConflict) && attempt < s.cfg.MaxRetries {
				s.metrics.RecordVersionConflict(op.name)
				continue
			}
			return false, storeFailure(op, err)
		}
		return true, nil
	}
}

// checkPrecondition はopの事前条件を検査し、不整合を検出した場合は記録する。
func (s *Service) checkPrecondition(op edgeOp, follower, followed *model.UserRelations) error {
	if op.check == nil {
		return nil
	}
	err := op.check(follower, followed)
	var apiErr *model.APIError
	if errors.As(err, &apiErr) && apiErr.Code == model.ErrCodeRelationInconsistent {
		s.metrics.RecordConsistencyViolation(op.name)
		slog.Error("フォロー関係の不整合を検出しました",
			slog.String("operation", op.name),
			slog.String("follower_id", follower.UserID),
			slog.String("followed_id", followed.UserID),
		)
	}
	return err
}
