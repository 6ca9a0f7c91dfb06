package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/followgraph/internal/auth"
	"github.com/hitoshi/followgraph/internal/metrics"
	"github.com/hitoshi/followgraph/internal/middleware"
	"github.com/hitoshi/followgraph/internal/policy"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Resolver          auth.CredentialResolver
	RoleLister        middleware.RoleLister
	Policy            *policy.Policy
	RateLimiter       *middleware.RateLimiter
	CORSAllowedOrigin string
	Logger            *slog.Logger
	Metrics           metrics.MetricsCollector

	// 公開エンドポイント
	DB             Pinger
	MetricsHandler http.Handler

	// サービス
	SocialService SocialServiceInterface
	RoleService   RoleServiceInterface
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → SecurityHeaders → Logging → Metrics → CORS → Auth → RateLimit(General) → RequireOperation
//
// /health と /metrics は認証の外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	mc := deps.Metrics
	if mc == nil {
		mc = metrics.NopCollector{}
	}

	r := chi.NewRouter()
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewMetricsMiddleware(mc))
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	socialHandler := NewSocialHandler(deps.SocialService)
	roleHandler := NewRoleHandler(deps.RoleService, deps.Policy)

	// --- 認証不要のルート ---
	if deps.DB != nil {
		r.Get("/health", NewHealthHandler(deps.DB).Health)
	}
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: Auth → RateLimit(General)
	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.NewAuthMiddleware(deps.Resolver, deps.RoleLister))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		allow := func(op string) func(http.Handler) http.Handler {
			return middleware.RequireOperation(deps.Policy, op)
		}
		mutation := deps.RateLimiter.MutationMiddleware()

		r.Route("/me", func(r chi.Router) {
			r.With(allow(policy.OpFollowersSelf)).Get("/followers", socialHandler.MyFollowers)
			r.With(allow(policy.OpFollowedSelf)).Get("/followed", socialHandler.MyFollowed)
		})

		r.Route("/users/{userName}", func(r chi.Router) {
			r.With(allow(policy.OpFollow), mutation).Post("/follow", socialHandler.Follow)
			r.With(allow(policy.OpUnfollow), mutation).Delete("/follow", socialHandler.Unfollow)
			r.With(allow(policy.OpFollowersOfUser)).Get("/followers", socialHandler.UserFollowers)
			r.With(allow(policy.OpFollowedOfUser)).Get("/followed", socialHandler.UserFollowed)

			// ロール遷移の認可は対象ロールごとのルールでハンドラー内で行う
			r.With(mutation).Post("/roles/{role}", roleHandler.Promote)
			r.With(mutation).Delete("/roles/{role}", roleHandler.Demote)
		})

		r.With(allow(policy.OpRoleHolders)).Get("/roles/{role}/holders", roleHandler.Holders)
	})

	return r
}
