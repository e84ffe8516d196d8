// Package model はドメインモデルを定義する。
package model

import "time"

// User はIdPでログインしたユーザーの正規化済みレコードを表す。
// IDは "provider:username" 形式で一意。セッション中は不変として扱う。
type User struct {
	ID         string `json:"id"`
	Provider   string `json:"provider"`
	ProviderID string `json:"provider_id"`
	Username   string `json:"username"`
	Name       string `json:"name"`
	Email      string `json:"email"`
	GivenName  string `json:"given_name"`
	FamilyName string `json:"family_name"`
	AvatarURL  string `json:"avatar_url"`
}

// Session はユーザーのログインセッションを表す。
// ユーザーレコード全体をセッションデータとして保持し、復元時にIdPへ再問い合わせしない。
type Session struct {
	ID        string
	User      User
	ExpiresAt time.Time
	CreatedAt time.Time
}
