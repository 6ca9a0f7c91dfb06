// Package socialgraph はフォロー関係のドメインロジックを提供する。
//
// フォロー関係はユーザーごとの2つの射影（FollowedUsers / FollowersList）として
// 別々のレコードに保存される。Serviceは2レコードへの書き込みを、呼び出し元から見て
// 1つの論理的な遷移として扱う。レコード単位の楽観的排他制御と有限回のリトライを行い、
// 2つ目の書き込みに失敗した場合は1つ目を補償して元に戻す。
package socialgraph

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hitoshi/followgraph/internal/events"
	"github.com/hitoshi/followgraph/internal/metrics"
	"github.com/hitoshi/followgraph/internal/model"
	"github.com/hitoshi/followgraph/internal/repository"
)

const tracerName = "github.com/hitoshi/followgraph/internal/socialgraph"

// デフォルト値
const (
	DefaultMaxRetries   = 5
	DefaultStoreTimeout = 5 * time.Second
)

// UserDirectory はユーザー名とIDの相互解決を提供する。
// 見つからない場合はいずれも空文字を返す。
type UserDirectory interface {
	FindIDByUsername(ctx context.Context, username string) (string, error)
	FindUsernameByID(ctx context.Context, id string) (string, error)
}

// Config はServiceの動作設定。
type Config struct {
	// AllowSelfFollow がfalseの場合、自分自身のフォローを拒否する。
	AllowSelfFollow bool
	// MaxRetries はバージョン競合時のリトライ上限。
	MaxRetries int
	// StoreTimeout は1操作あたりのストア呼び出しの制限時間。
	StoreTimeout time.Duration
}

// DefaultConfig はデフォルト設定を返す。
func DefaultConfig() Config {
	return Config{
		AllowSelfFollow: true,
		MaxRetries:      DefaultMaxRetries,
		StoreTimeout:    DefaultStoreTimeout,
	}
}

// Service はフォロー関係のサービス層。
type Service struct {
	store     repository.RelationRepository
	users     UserDirectory
	publisher events.Publisher
	metrics   metrics.MetricsCollector
	cfg       Config
	tracer    trace.Tracer
}

// NewService はServiceの新しいインスタンスを生成する。
// publisherとmcがnilの場合は何もしない実装を使う。
func NewService(
	store repository.RelationRepository,
	users UserDirectory,
	publisher events.Publisher,
	mc metrics.MetricsCollector,
	cfg Config,
) *Service {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	if mc == nil {
		mc = metrics.NopCollector{}
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = DefaultStoreTimeout
	}
	return &Service{
		store:     store,
		users:     users,
		publisher: publisher,
		metrics:   mc,
		cfg:       cfg,
		tracer:    otel.Tracer(tracerName),
	}
}

// Follow はactorIDのユーザーがtargetUsernameのユーザーをフォローする。
// 既にフォローしている場合は何も変更せず成功する。
func (s *Service) Follow(ctx context.Context, actorID, targetUsername string) (err error) {
	ctx, done := s.begin(ctx, followEdge.name, actorID, targetUsername)
	defer func() { done(err) }()

	targetID, err := s.resolveTarget(ctx, targetUsername)
	if err != nil {
		return err
	}
	if actorID == targetID && !s.cfg.AllowSelfFollow {
		return model.NewSelfReferenceError()
	}

	changed, err := s.transition(ctx, followEdge, actorID, targetID)
	if err != nil {
		return err
	}
	if changed {
		slog.Info("フォローしました",
			slog.String("follower_id", actorID),
			slog.String("followed_id", targetID),
		)
		s.publish(ctx, events.NewFollowEvent(events.TypeFollowCreated, actorID, targetID))
	}
	return nil
}

// Unfollow はactorIDのユーザーがtargetUsernameのユーザーのフォローを解除する。
// フォローしていない場合はNOT_FOLLOWING、片側のレコードにのみ関係がある場合は
// RELATION_INCONSISTENTを返し、いずれも何も変更しない。
func (s *Service) Unfollow(ctx context.Context, actorID, targetUsername string) (err error) {
	ctx, done := s.begin(ctx, unfollowEdge.name, actorID, targetUsername)
	defer func() { done(err) }()

	targetID, err := s.resolveTarget(ctx, targetUsername)
	if err != nil {
		return err
	}

	if _, err := s.transition(ctx, unfollowEdge, actorID, targetID); err != nil {
		return err
	}
	slog.Info("フォローを解除しました",
		slog.String("follower_id", actorID),
		slog.String("followed_id", targetID),
	)
	s.publish(ctx, events.NewFollowEvent(events.TypeFollowRemoved, actorID, targetID))
	return nil
}

// ListFollowers はuserIDのユーザーをフォローしているユーザー名をID順で返す。
// ユーザー名が解決できないIDは読み飛ばす。関係が無い場合は空スライスを返す。
func (s *Service) ListFollowers(ctx context.Context, userID string) ([]string, error) {
	return s.list(ctx, "list_followers", userID, "", followersOf)
}

// ListFollowed はuserIDのユーザーがフォローしているユーザー名をID順で返す。
func (s *Service) ListFollowed(ctx context.Context, userID string) ([]string, error) {
	return s.list(ctx, "list_followed", userID, "", followedOf)
}

// ListFollowersOf はユーザー名を解決してからフォロワーを返す。
func (s *Service) ListFollowersOf(ctx context.Context, username string) ([]string, error) {
	return s.list(ctx, "list_followers", "", username, followersOf)
}

// ListFollowedOf はユーザー名を解決してからフォロー中のユーザーを返す。
func (s *Service) ListFollowedOf(ctx context.Context, username string) ([]string, error) {
	return s.list(ctx, "list_followed", "", username, followedOf)
}

func followersOf(rel *model.UserRelations) model.IDSet { return rel.FollowersList }
func followedOf(rel *model.UserRelations) model.IDSet  { return rel.FollowedUsers }

// list はuserIDまたはusernameで指定されたユーザーの射影をユーザー名に変換して返す。
func (s *Service) list(
	ctx context.Context,
	operation, userID, username string,
	side func(*model.UserRelations) model.IDSet,
) (names []string, err error) {
	ctx, done := s.begin(ctx, operation, userID, username)
	defer func() { done(err) }()

	if userID == "" {
		if userID, err = s.resolveTarget(ctx, username); err != nil {
			return nil, err
		}
	}
	rel, err := s.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.project(ctx, side(rel)), nil
}

// begin はスパンとタイムアウトを設定し、終了時に呼ぶ関数を返す。
func (s *Service) begin(ctx context.Context, operation, actorID, target string) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "socialgraph."+operation, trace.WithAttributes(
		attribute.String("followgraph.user_id", actorID),
		attribute.String("followgraph.target", target),
	))
	ctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)

	return ctx, func(err error) {
		cancel()
		result := metrics.ResultSuccess
		if err != nil {
			result = metrics.ResultFailure
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		s.metrics.RecordGraphOperation(operation, result, time.Since(start))
		span.End()
	}
}

// resolveTarget はユーザー名をIDに解決する。解決できない場合はUSER_NOT_FOUND。
func (s *Service) resolveTarget(ctx context.Context, username string) (string, error) {
	if username == "" {
		return "", model.NewUserNotFoundError()
	}
	id, err := s.users.FindIDByUsername(ctx, username)
	if err != nil {
		return "", model.NewUpstreamFailureError("Could not resolve user", err)
	}
	if id == "" {
		return "", model.NewUserNotFoundError()
	}
	return id, nil
}

// load はリレーションレコードを取得する。存在しない場合はUSER_NOT_FOUND。
func (s *Service) load(ctx context.Context, userID string) (*model.UserRelations, error) {
	rel, err := s.store.Get(ctx, userID)
	if errors.Is(err, repository.ErrRelationsNotFound) {
		return nil, model.NewUserNotFoundError()
	}
	if err != nil {
		return nil, model.NewUpstreamFailureError("Could not load relations", err)
	}
	return rel, nil
}

// project はIDの集合をユーザー名のスライスに変換する。
func (s *Service) project(ctx context.Context, ids model.IDSet) []string {
	names := make([]string, 0, ids.Len())
	for _, id := range ids.Sorted() {
		name, err := s.users.FindUsernameByID(ctx, id)
		if err != nil {
			slog.Warn("ユーザー名の解決に失敗しました",
				slog.String("user_id", id),
				slog.String("error", err.Error()),
			)
			continue
		}
		if name == "" {
			continue
		}
		names = append(names, name)
	}
	return names
}

func (s *Service) publish(ctx context.Context, event events.Event) {
	if err := s.publisher.Publish(ctx, event); err != nil {
		slog.Warn("イベントの発行に失敗しました",
			slog.String("type", event.Type),
			slog.String("error", err.Error()),
		)
	}
}

// storeFailure はストアエラーをUPSTREAM_FAILUREに変換する。
func storeFailure(op edgeOp, err error) error {
	return model.NewUpstreamFailureError(op.failure, err)
}
