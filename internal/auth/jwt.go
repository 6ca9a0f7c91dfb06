package auth

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hitoshi/followgraph/internal/model"
)

// Claims はベアラートークンのクレーム。Subjectに呼び出し元のユーザーIDを持つ。
type Claims struct {
	Username string `json:"username,omitempty"`
	jwt.RegisteredClaims
}

// UserFinder はsubクレームのユーザーがディレクトリに存在するか確認するためのインターフェース。
// repository.UserRepositoryの部分集合として定義する。
type UserFinder interface {
	FindByID(ctx context.Context, id string) (*model.User, error)
}

// JWTResolver はHS256署名のJWTを資格情報として扱うCredentialResolver。
type JWTResolver struct {
	secret []byte
	issuer string
	users  UserFinder
}

// NewJWTResolver はJWTResolverを生成する。issuerが空の場合はissを検証しない。
func NewJWTResolver(secret []byte, issuer string, users UserFinder) *JWTResolver {
	return &JWTResolver{secret: secret, issuer: issuer, users: users}
}

// ResolveCallerID は署名と有効期限を検証し、subクレームのユーザーIDを返す。
// 検証に失敗したトークンと、subがディレクトリに存在しないトークンは空文字を返す。
func (r *JWTResolver) ResolveCallerID(ctx context.Context, credential string) (string, error) {
	if credential == "" {
		return "", nil
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if r.issuer != "" {
		opts = append(opts, jwt.WithIssuer(r.issuer))
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(credential, claims, func(*jwt.Token) (any, error) {
		return r.secret, nil
	}, opts...)
	if err != nil {
		slog.Debug("ベアラートークンの検証に失敗しました", slog.String("error", err.Error()))
		return "", nil
	}
	if !token.Valid || claims.Subject == "" {
		return "", nil
	}

	// 削除済みユーザーのトークンは有効期限内でも受け付けない
	user, err := r.users.FindByID(ctx, claims.Subject)
	if err != nil {
		return "", fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		slog.Debug("ベアラートークンのユーザーが存在しません", slog.String("user_id", claims.Subject))
		return "", nil
	}
	return user.ID, nil
}

// compile-time interface check
var _ CredentialResolver = (*JWTResolver)(nil)
