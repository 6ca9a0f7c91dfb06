// Package auth は不透明なベアラー資格情報から呼び出し元ユーザーを解決する。
// トークンの発行は扱わない。
package auth

import (
	"context"
	"fmt"

	"github.com/hitoshi/followgraph/internal/model"
)

// CredentialResolver は資格情報をユーザーIDに解決する。
// 解決できない資格情報はエラーではなく空文字を返す。
// エラーは下位システムの障害の場合のみ返す。
type CredentialResolver interface {
	ResolveCallerID(ctx context.Context, credential string) (string, error)
}

// SessionFinder はセッションの検索に必要なインターフェース。
// repository.SessionRepositoryの部分集合として定義する。
type SessionFinder interface {
	FindByID(ctx context.Context, id string) (*model.Session, error)
}

// SessionResolver はセッションIDを資格情報として扱うCredentialResolver。
type SessionResolver struct {
	sessions SessionFinder
}

// NewSessionResolver はSessionResolverを生成する。
func NewSessionResolver(sessions SessionFinder) *SessionResolver {
	return &SessionResolver{sessions: sessions}
}

// ResolveCallerID は有効なセッションのユーザーIDを返す。期限切れや未登録の場合は空文字。
func (r *SessionResolver) ResolveCallerID(ctx context.Context, credential string) (string, error) {
	if credential == "" {
		return "", nil
	}
	session, err := r.sessions.FindByID(ctx, credential)
	if err != nil {
		return "", fmt.Errorf("failed to find session: %w", err)
	}
	if session == nil {
		return "", nil
	}
	return session.UserID, nil
}

// StaticResolver は固定の対応表で資格情報を解決するCredentialResolver。
// ローカル実行とテスト用。
type StaticResolver map[string]string

// ResolveCallerID は対応表に登録されたユーザーIDを返す。
func (s StaticResolver) ResolveCallerID(_ context.Context, credential string) (string, error) {
	return s[credential], nil
}

// compile-time interface check
var (
	_ CredentialResolver = (*SessionResolver)(nil)
	_ CredentialResolver = StaticResolver(nil)
)
