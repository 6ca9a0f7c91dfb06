// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hitoshi/followgraph/internal/auth"
	"github.com/hitoshi/followgraph/internal/model"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var (
	// userIDContextKey はリクエストコンテキストにユーザーIDを格納するためのキー。
	userIDContextKey = contextKey("user_id")
	// rolesContextKey は呼び出し元のロール集合を格納するためのキー。
	rolesContextKey = contextKey("roles")
)

const bearerPrefix = "Bearer "

// RoleLister は呼び出し元のロール集合を返す。roles.Serviceが満たす。
type RoleLister interface {
	RolesOf(ctx context.Context, userID string) ([]model.Role, error)
}

// NewAuthMiddleware はAuthorizationヘッダーのベアラー資格情報を検証するミドルウェアを返す。
// 解決したユーザーIDとロール集合をリクエストコンテキストに注入する。
// 資格情報が無い、または解決できない場合は一律に401 UNAUTHENTICATEDを返す。
func NewAuthMiddleware(resolver auth.CredentialResolver, roles RoleLister) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// 1. ヘッダーから資格情報を取得
			credential, ok := bearerCredential(r)
			if !ok {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthenticatedError())
				return
			}

			// 2. 資格情報をユーザーIDに解決
			userID, err := resolver.ResolveCallerID(r.Context(), credential)
			if err != nil {
				slog.ErrorContext(r.Context(), "failed to resolve credential",
					slog.String("error", err.Error()),
				)
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthenticatedError())
				return
			}
			if userID == "" {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthenticatedError())
				return
			}

			// 3. 認可判定用にロール集合を取得
			held, err := roles.RolesOf(r.Context(), userID)
			if err != nil {
				slog.ErrorContext(r.Context(), "failed to load caller roles",
					slog.String("user_id", userID),
					slog.String("error", err.Error()),
				)
				WriteInternalServerError(w)
				return
			}

			if info := requestInfoFromContext(r.Context()); info != nil {
				info.userID = userID
			}
			ctx := ContextWithUserID(r.Context(), userID)
			ctx = ContextWithRoles(ctx, held)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerCredential(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if len(header) < len(bearerPrefix) || !strings.EqualFold(header[:len(bearerPrefix)], bearerPrefix) {
		return "", false
	}
	credential := strings.TrimSpace(header[len(bearerPrefix):])
	return credential, credential != ""
}

// UserIDFromContext はリクエストコンテキストからユーザーIDを取得する。
// 認証ミドルウェアを通過したリクエストでのみ有効。
func UserIDFromContext(ctx context.Context) (string, error) {
	userID, ok := ctx.Value(userIDContextKey).(string)
	if !ok || userID == "" {
		return "", fmt.Errorf("user ID not found in context")
	}
	return userID, nil
}

// ContextWithUserID はコンテキストにユーザーIDを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDContextKey, userID)
}

// RolesFromContext は呼び出し元のロール集合を返す。未設定の場合はnil。
func RolesFromContext(ctx context.Context) []model.Role {
	roles, _ := ctx.Value(rolesContextKey).([]model.Role)
	return roles
}

// ContextWithRoles はコンテキストにロール集合を注入する。
func ContextWithRoles(ctx context.Context, roles []model.Role) context.Context {
	return context.WithValue(ctx, rolesContextKey, roles)
}
