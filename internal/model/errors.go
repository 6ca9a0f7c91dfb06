// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, not_found, invariant, upstream, system
	Action   string // ユーザー向け対処方法

	cause error
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap は下位システムのエラーを返す。UPSTREAM_FAILURE以外ではnil。
func (e *APIError) Unwrap() error {
	return e.cause
}

// エラーカテゴリ
const (
	CategoryAuth       = "auth"
	CategoryValidation = "validation"
	CategoryNotFound   = "not_found"
	CategoryInvariant  = "invariant"
	CategoryUpstream   = "upstream"
	CategorySystem     = "system"
)

// 定義済みエラーコード
const (
	ErrCodeUnauthenticated      = "UNAUTHENTICATED"
	ErrCodeForbidden            = "FORBIDDEN"
	ErrCodeUserNotFound         = "USER_NOT_FOUND"
	ErrCodeUnknownUser          = "UNKNOWN_USER"
	ErrCodeMissingInput         = "MISSING_INPUT"
	ErrCodeInvalidRole          = "INVALID_ROLE"
	ErrCodeSelfReference        = "SELF_REFERENCE_NOT_ALLOWED"
	ErrCodeNotFollowing         = "NOT_FOLLOWING"
	ErrCodeRelationInconsistent = "RELATION_INCONSISTENT"
	ErrCodeRoleNotHeld          = "ROLE_NOT_HELD"
	ErrCodeUpstreamFailure      = "UPSTREAM_FAILURE"
	ErrCodeInternal             = "INTERNAL_ERROR"
)

// NewUnauthenticatedError は呼び出し元の資格情報が解決できない場合のエラーを生成する。
func NewUnauthenticatedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthenticated,
		Message:  "Authentication required.",
		Category: CategoryAuth,
		Action:   "Send a valid bearer token in the Authorization header.",
	}
}

// NewForbiddenError は呼び出し元のロールで操作が許可されていない場合のエラーを生成する。
func NewForbiddenError(operation string) *APIError {
	return &APIError{
		Code:     ErrCodeForbidden,
		Message:  fmt.Sprintf("Operation not permitted: %s", operation),
		Category: CategoryAuth,
		Action:   "Ask a user with the required role to perform this operation.",
	}
}

// NewUserNotFoundError はユーザーまたはそのリレーションレコードが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "User not found",
		Category: CategoryNotFound,
		Action:   "Check the user name and try again.",
	}
}

// NewUnknownUserError はロール操作の対象ユーザー名が解決できない場合のエラーを生成する。
func NewUnknownUserError() *APIError {
	return &APIError{
		Code:     ErrCodeUnknownUser,
		Message:  "UserId not found",
		Category: CategoryNotFound,
		Action:   "Check the user name and try again.",
	}
}

// NewMissingInputError は必須入力が空の場合のエラーを生成する。
func NewMissingInputError(field string) *APIError {
	return &APIError{
		Code:     ErrCodeMissingInput,
		Message:  fmt.Sprintf("Insert %s", field),
		Category: CategoryValidation,
		Action:   fmt.Sprintf("Provide a non-empty %s.", field),
	}
}

// NewInvalidRoleError は未定義のロール名が指定された場合のエラーを生成する。
func NewInvalidRoleError(role string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRole,
		Message:  fmt.Sprintf("Invalid role: %s", role),
		Category: CategoryValidation,
		Action:   "Use one of USER, EMPLOYEE, COMPANY_ADMIN, MODERATOR.",
	}
}

// NewSelfReferenceError は自分自身をフォローしようとした場合のエラーを生成する。
func NewSelfReferenceError() *APIError {
	return &APIError{
		Code:     ErrCodeSelfReference,
		Message:  "Users cannot follow themselves",
		Category: CategoryValidation,
		Action:   "Choose another user to follow.",
	}
}

// NewNotFollowingError はフォローしていないユーザーをアンフォローしようとした場合のエラーを生成する。
func NewNotFollowingError() *APIError {
	return &APIError{
		Code:     ErrCodeNotFollowing,
		Message:  "Cannot unfollow user",
		Category: CategoryInvariant,
		Action:   "You can only unfollow users you follow.",
	}
}

// NewRelationInconsistentError は2つのリレーションレコードの片側だけに関係が存在する場合のエラーを生成する。
// 自動修復は行わず、検出した事実をそのまま返す。
func NewRelationInconsistentError(followerID, followedID string) *APIError {
	return &APIError{
		Code:     ErrCodeRelationInconsistent,
		Message:  fmt.Sprintf("Follow relation between %s and %s is recorded on one side only", followerID, followedID),
		Category: CategoryInvariant,
		Action:   "Contact an operator; the relation needs manual repair.",
	}
}

// NewRoleNotHeldError はユーザーが保持していないロールを剥奪しようとした場合のエラーを生成する。
func NewRoleNotHeldError(role Role) *APIError {
	return &APIError{
		Code:     ErrCodeRoleNotHeld,
		Message:  fmt.Sprintf("User is not %s", role.DisplayName()),
		Category: CategoryInvariant,
		Action:   "Check the user's current roles.",
	}
}

// NewUpstreamFailureError はストアやディレクトリの操作自体が失敗した場合のエラーを生成する。
// 下位システムのメッセージをそのまま含め、errors.Is/Asで原因を辿れるようにする。
func NewUpstreamFailureError(summary string, cause error) *APIError {
	msg := summary
	if cause != nil {
		msg = fmt.Sprintf("%s see exception: %s", summary, cause.Error())
	}
	return &APIError{
		Code:     ErrCodeUpstreamFailure,
		Message:  msg,
		Category: CategoryUpstream,
		Action:   "Retry later. If the problem persists, contact an operator.",
		cause:    cause,
	}
}

// NewInternalError は内部エラーの統一レスポンス用エラーを生成する。
// 詳細はログのみに記録し、ユーザーには一般的なメッセージを返す。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "Internal server error.",
		Category: CategorySystem,
		Action:   "Retry later.",
	}
}
