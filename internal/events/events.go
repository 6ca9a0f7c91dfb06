// Package events はドメインイベントの発行を提供する。
// 発行はベストエフォートで、失敗しても呼び出し元の操作は成功として扱う。
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// イベント種別。NATSのサブジェクトとしても使う。
const (
	TypeFollowCreated = "followgraph.follow.created"
	TypeFollowRemoved = "followgraph.follow.removed"
	TypeRoleGranted   = "followgraph.role.granted"
	TypeRoleRevoked   = "followgraph.role.revoked"
)

// Event は発行するドメインイベント。
type Event struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	ActorID    string    `json:"actor_id"`
	SubjectID  string    `json:"subject_id"`
	Role       string    `json:"role,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// NewFollowEvent はフォロー関係のイベントを生成する。
func NewFollowEvent(eventType, followerID, followedID string) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		ActorID:    followerID,
		SubjectID:  followedID,
		OccurredAt: time.Now().UTC(),
	}
}

// NewRoleEvent はロール操作のイベントを生成する。
func NewRoleEvent(eventType, userID, role string) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		SubjectID:  userID,
		Role:       role,
		OccurredAt: time.Now().UTC(),
	}
}

// Publisher はイベントの発行先。
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// NopPublisher はイベントを破棄するPublisher。NATS未設定時に使う。
type NopPublisher struct{}

// Publish は何もしない。
func (NopPublisher) Publish(context.Context, Event) error { return nil }
