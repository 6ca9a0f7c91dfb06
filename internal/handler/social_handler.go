package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// SocialServiceInterface はフォロー関係ハンドラーが必要とするサービスインターフェース。
type SocialServiceInterface interface {
	Follow(ctx context.Context, actorID, targetUsername string) error
	Unfollow(ctx context.Context, actorID, targetUsername string) error
	ListFollowers(ctx context.Context, userID string) ([]string, error)
	ListFollowed(ctx context.Context, userID string) ([]string, error)
	ListFollowersOf(ctx context.Context, username string) ([]string, error)
	ListFollowedOf(ctx context.Context, username string) ([]string, error)
}

// SocialHandler はフォロー関係のHTTPハンドラー。
type SocialHandler struct {
	service SocialServiceInterface
}

// NewSocialHandler はSocialHandlerを生成する。
func NewSocialHandler(service SocialServiceInterface) *SocialHandler {
	return &SocialHandler{service: service}
}

// Follow は呼び出し元が{userName}をフォローする。
// POST /api/users/{userName}/follow
func (h *SocialHandler) Follow(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}
	if err := h.service.Follow(r.Context(), userID, chi.URLParam(r, "userName")); err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeMessage(w, "User followed successfully")
}

// Unfollow は呼び出し元が{userName}のフォローを解除する。
// DELETE /api/users/{userName}/follow
func (h *SocialHandler) Unfollow(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}
	if err := h.service.Unfollow(r.Context(), userID, chi.URLParam(r, "userName")); err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeMessage(w, "User unfollowed successfully")
}

// MyFollowers は呼び出し元のフォロワー一覧を返す。
// GET /api/me/followers
func (h *SocialHandler) MyFollowers(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}
	names, err := h.service.ListFollowers(r.Context(), userID)
	writeList(w, r, names, err)
}

// MyFollowed は呼び出し元がフォローしているユーザー一覧を返す。
// GET /api/me/followed
func (h *SocialHandler) MyFollowed(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}
	names, err := h.service.ListFollowed(r.Context(), userID)
	writeList(w, r, names, err)
}

// UserFollowers は{userName}のフォロワー一覧を返す。
// GET /api/users/{userName}/followers
func (h *SocialHandler) UserFollowers(w http.ResponseWriter, r *http.Request) {
	names, err := h.service.ListFollowersOf(r.Context(), chi.URLParam(r, "userName"))
	writeList(w, r, names, err)
}

// UserFollowed は{userName}がフォローしているユーザー一覧を返す。
// GET /api/users/{userName}/followed
func (h *SocialHandler) UserFollowed(w http.ResponseWriter, r *http.Request) {
	names, err := h.service.ListFollowedOf(r.Context(), chi.URLParam(r, "userName"))
	writeList(w, r, names, err)
}

// writeList はユーザー名一覧を書き込む。対象ユーザーが存在しない場合は本文なしの204を返す。
func writeList(w http.ResponseWriter, r *http.Request, names []string, err error) {
	if isUserNotFound(err) {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	if names == nil {
		names = []string{}
	}
	writeJSON(w, http.StatusOK, names)
}
