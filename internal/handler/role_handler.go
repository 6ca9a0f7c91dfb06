package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/followgraph/internal/middleware"
	"github.com/hitoshi/followgraph/internal/model"
	"github.com/hitoshi/followgraph/internal/policy"
	"github.com/hitoshi/followgraph/internal/roles"
)

// RoleServiceInterface はロールハンドラーが必要とするサービスインターフェース。
type RoleServiceInterface interface {
	Promote(ctx context.Context, username string, role model.Role) error
	Demote(ctx context.Context, username string, role model.Role) error
	Holders(ctx context.Context, role model.Role) ([]string, error)
}

// TransitionPolicy はロール遷移の認可ルールを提供する。policy.Policyが満たす。
type TransitionPolicy interface {
	Allows(op string, held []model.Role) bool
	Transition(action string, role model.Role) (policy.Transition, bool)
}

// RoleHandler はロール遷移のHTTPハンドラー。
type RoleHandler struct {
	service RoleServiceInterface
	policy  TransitionPolicy
}

// NewRoleHandler はRoleHandlerを生成する。
func NewRoleHandler(service RoleServiceInterface, p TransitionPolicy) *RoleHandler {
	return &RoleHandler{service: service, policy: p}
}

// Promote は{userName}に{role}を付与する。
// POST /api/users/{userName}/roles/{role}
func (h *RoleHandler) Promote(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, roles.ActionPromote, h.service.Promote)
}

// Demote は{userName}から{role}を外す。
// DELETE /api/users/{userName}/roles/{role}
func (h *RoleHandler) Demote(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, roles.ActionDemote, h.service.Demote)
}

// transition はロールを解釈し、遷移ルールで認可してからapplyを呼ぶ。
// 成功メッセージは遷移ルールのものを返す。
func (h *RoleHandler) transition(
	w http.ResponseWriter,
	r *http.Request,
	action string,
	apply func(ctx context.Context, username string, role model.Role) error,
) {
	role, err := model.ParseRole(chi.URLParam(r, "role"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	rule, ok := h.policy.Transition(action, role)
	op := policy.TransitionOperation(action, role)
	if !ok || !h.policy.Allows(op, middleware.RolesFromContext(r.Context())) {
		userID, _ := middleware.UserIDFromContext(r.Context())
		slog.WarnContext(r.Context(), "role transition forbidden",
			slog.String("user_id", userID),
			slog.String("operation", op),
		)
		middleware.WriteErrorResponse(w, http.StatusForbidden, model.NewForbiddenError(op))
		return
	}

	if err := apply(r.Context(), chi.URLParam(r, "userName"), role); err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeMessage(w, rule.Message)
}

// Holders は{role}を持つユーザー名の一覧を返す。
// GET /api/roles/{role}/holders
func (h *RoleHandler) Holders(w http.ResponseWriter, r *http.Request) {
	role, err := model.ParseRole(chi.URLParam(r, "role"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	names, err := h.service.Holders(r.Context(), role)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	if names == nil {
		names = []string{}
	}
	writeJSON(w, http.StatusOK, names)
}
