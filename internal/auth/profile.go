package auth

import (
	"crypto/md5"
	"encoding/hex"
	"strings"

	"github.com/hitoshi/opendatacensus/internal/model"
)

// ProviderFacebook はFacebookのプロバイダー名。
const ProviderFacebook = "facebook"

const gravatarBaseURL = "https://www.gravatar.com/avatar/"

// Profile はIdPから取得したプロフィールを表す。
type Profile struct {
	Provider    string
	ProviderID  string
	Username    string
	DisplayName string
	GivenName   string
	FamilyName  string
	Email       string
}

// NormalizeProfile はプロフィールを正規化されたユーザーレコードに変換する。
// 同じプロフィールからは常に同じユーザーが得られる。
// メールアドレスがない場合はEMAIL_MISSINGを返し、ユーザーは生成しない。
func NormalizeProfile(p *Profile) (*model.User, error) {
	if strings.TrimSpace(p.Email) == "" {
		return nil, model.NewEmailMissingError(p.Provider)
	}

	return &model.User{
		ID:         p.Provider + ":" + p.Username,
		Provider:   p.Provider,
		ProviderID: p.ProviderID,
		Username:   p.Username,
		Name:       p.DisplayName,
		Email:      p.Email,
		GivenName:  p.GivenName,
		FamilyName: p.FamilyName,
		AvatarURL:  GravatarURL(p.Email),
	}, nil
}

// GravatarURL はメールアドレスからGravatarのアバターURLを生成する。
// 前後の空白を除き小文字化してからハッシュするため、大文字小文字の違いでURLは変わらない。
func GravatarURL(email string) string {
	sum := md5.Sum([]byte(strings.ToLower(strings.TrimSpace(email))))
	return gravatarBaseURL + hex.EncodeToString(sum[:]) + ".jpg"
}
