// Package roles はロールの付与・剥奪のドメインロジックを提供する。
//
// (ユーザー, ロール) の組はそれぞれ HELD / NOT_HELD の2状態を持つ。
// Promoteは NOT_HELD→HELD と HELD→HELD（何もしない）、
// Demoteは HELD→NOT_HELD のみを許し、NOT_HELD の場合は拒否する。
package roles

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hitoshi/followgraph/internal/events"
	"github.com/hitoshi/followgraph/internal/metrics"
	"github.com/hitoshi/followgraph/internal/model"
	"github.com/hitoshi/followgraph/internal/repository"
)

const tracerName = "github.com/hitoshi/followgraph/internal/roles"

// 操作種別
const (
	ActionPromote = "promote"
	ActionDemote  = "demote"
)

// UserDirectory はユーザー名とIDの相互解決を提供する。
type UserDirectory interface {
	FindIDByUsername(ctx context.Context, username string) (string, error)
	FindUsernameByID(ctx context.Context, id string) (string, error)
}

// Service はロール遷移のサービス層。
type Service struct {
	directory repository.RoleRepository
	users     UserDirectory
	publisher events.Publisher
	metrics   metrics.MetricsCollector
	tracer    trace.Tracer
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	directory repository.RoleRepository,
	users UserDirectory,
	publisher events.Publisher,
	mc metrics.MetricsCollector,
) *Service {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	if mc == nil {
		mc = metrics.NopCollector{}
	}
	return &Service{
		directory: directory,
		users:     users,
		publisher: publisher,
		metrics:   mc,
		tracer:    otel.Tracer(tracerName),
	}
}

// Promote はユーザーにロールを付与する。
// 既に保持している場合も事前確認はせず、ディレクトリ側の冪等性に任せる。
func (s *Service) Promote(ctx context.Context, username string, role model.Role) (err error) {
	ctx, done := s.begin(ctx, ActionPromote, username, role)
	defer func() { done(err) }()

	userID, err := s.resolve(ctx, username, role)
	if err != nil {
		return err
	}

	if err := s.directory.AddRole(ctx, userID, role); err != nil {
		return model.NewUpstreamFailureError(
			fmt.Sprintf("Could not make user %s", role.DisplayName()), err)
	}

	slog.Info("ロールを付与しました",
		slog.String("user_id", userID),
		slog.String("role", string(role)),
	)
	s.publish(ctx, events.NewRoleEvent(events.TypeRoleGranted, userID, string(role)))
	return nil
}

// Demote はユーザーからロールを剥奪する。保持していない場合はROLE_NOT_HELDを返す。
func (s *Service) Demote(ctx context.Context, username string, role model.Role) (err error) {
	ctx, done := s.begin(ctx, ActionDemote, username, role)
	defer func() { done(err) }()

	userID, err := s.resolve(ctx, username, role)
	if err != nil {
		return err
	}

	failure := fmt.Sprintf("Could not remove user from role %s", role.DisplayName())
	held, err := s.directory.HasRole(ctx, userID, role)
	if err != nil {
		return model.NewUpstreamFailureError(failure, err)
	}
	if !held {
		return model.NewRoleNotHeldError(role)
	}

	if err := s.directory.RemoveRole(ctx, userID, role); err != nil {
		return model.NewUpstreamFailureError(failure, err)
	}

	slog.Info("ロールを剥奪しました",
		slog.String("user_id", userID),
		slog.String("role", string(role)),
	)
	s.publish(ctx, events.NewRoleEvent(events.TypeRoleRevoked, userID, string(role)))
	return nil
}

// RolesOf はユーザーが保持しているロールを返す。
func (s *Service) RolesOf(ctx context.Context, userID string) ([]model.Role, error) {
	roles, err := s.directory.RolesOf(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("ロールの取得に失敗しました: %w", err)
	}
	return roles, nil
}

// Holders はロールを保持しているユーザー名をID順で返す。
// ユーザー名が解決できないIDは読み飛ばす。
func (s *Service) Holders(ctx context.Context, role model.Role) ([]string, error) {
	if !role.Valid() {
		return nil, model.NewInvalidRoleError(string(role))
	}
	ids, err := s.directory.ListHolders(ctx, role)
	if err != nil {
		return nil, model.NewUpstreamFailureError("Could not list role holders", err)
	}

	names := make([]string, 0, len(ids))
	for _, id := range ids {
		name, err := s.users.FindUsernameByID(ctx, id)
		if err != nil {
			slog.Warn("ユーザー名の解決に失敗しました",
				slog.String("user_id", id),
				slog.String("error", err.Error()),
			)
			continue
		}
		if name != "" {
			names = append(names, name)
		}
	}
	return names, nil
}

// resolve は入力を検証し、ユーザー名をIDに解決する。
func (s *Service) resolve(ctx context.Context, username string, role model.Role) (string, error) {
	if username == "" {
		return "", model.NewMissingInputError("username")
	}
	if !role.Valid() {
		return "", model.NewInvalidRoleError(string(role))
	}
	userID, err := s.users.FindIDByUsername(ctx, username)
	if err != nil {
		return "", model.NewUpstreamFailureError("Could not resolve user", err)
	}
	if userID == "" {
		return "", model.NewUnknownUserError()
	}
	return userID, nil
}

func (s *Service) begin(ctx context.Context, action, username string, role model.Role) (context.Context, func(error)) {
	ctx, span := s.tracer.Start(ctx, "roles."+action, trace.WithAttributes(
		attribute.String("followgraph.target", username),
		attribute.String("followgraph.role", string(role)),
	))
	return ctx, func(err error) {
		result := metrics.ResultSuccess
		if err != nil {
			result = metrics.ResultFailure
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		s.metrics.RecordRoleTransition(action, string(role), result)
		span.End()
	}
}

func (s *Service) publish(ctx context.Context, event events.Event) {
	if err := s.publisher.Publish(ctx, event); err != nil {
		slog.Warn("イベントの発行に失敗しました",
			slog.String("type", event.Type),
			slog.String("error", err.Error()),
		)
	}
}
