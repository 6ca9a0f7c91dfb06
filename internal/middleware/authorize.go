package middleware

import (
	"log/slog"
	"net/http"

	"github.com/hitoshi/followgraph/internal/model"
)

// Authorizer は操作IDと呼び出し元のロールから可否を判定する。policy.Policyが満たす。
type Authorizer interface {
	Allows(op string, held []model.Role) bool
}

// RequireOperation は呼び出し元のロールでopが許可されていない場合に403を返すミドルウェアを返す。
// 認証ミドルウェアの後に配置する。
func RequireOperation(authz Authorizer, op string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !authz.Allows(op, RolesFromContext(r.Context())) {
				userID, _ := UserIDFromContext(r.Context())
				slog.WarnContext(r.Context(), "operation forbidden",
					slog.String("user_id", userID),
					slog.String("operation", op),
				)
				WriteErrorResponse(w, http.StatusForbidden, model.NewForbiddenError(op))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
