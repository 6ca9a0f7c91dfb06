// Package model はドメインモデルを定義する。
package model

import "time"

// User はディレクトリに登録されたユーザーを表す。
// IDは不変、Usernameは変更されうる。
type User struct {
	ID        string
	Username  string
	Email     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Session は不透明なベアラー資格情報とユーザーの対応を表す。
type Session struct {
	ID        string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}
