package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	flashCookieName = "census_flash"
	nextCookieName  = "census_next"

	flashTTL = 5 * time.Minute
	nextTTL  = 10 * time.Minute
)

// FlashLevel はフラッシュメッセージの種別。
type FlashLevel string

const (
	FlashInfo  FlashLevel = "info"
	FlashError FlashLevel = "error"
)

// FlashMessage は次のページ表示で一度だけ表示するメッセージ。
type FlashMessage struct {
	Level   FlashLevel `json:"level"`
	Message string     `json:"message"`
}

type flashClaims struct {
	Messages []FlashMessage `json:"msgs"`
	jwt.RegisteredClaims
}

type nextClaims struct {
	Next string `json:"next"`
	jwt.RegisteredClaims
}

// CookieSigner はフラッシュメッセージとログイン後の遷移先を
// HMAC署名付きJWTとしてCookieに保持する。
type CookieSigner struct {
	secret []byte
	secure bool
	domain string
	now    func() time.Time
}

// NewCookieSigner は新しいCookieSignerを生成する。
func NewCookieSigner(secret string, secure bool, domain string) *CookieSigner {
	return &CookieSigner{
		secret: []byte(secret),
		secure: secure,
		domain: domain,
		now:    time.Now,
	}
}

// AddFlash はフラッシュメッセージを追加する。
// リクエストに既存のメッセージがあれば引き継ぐ。
func (s *CookieSigner) AddFlash(w http.ResponseWriter, r *http.Request, level FlashLevel, message string) error {
	messages := s.readFlashes(r)
	messages = append(messages, FlashMessage{Level: level, Message: message})

	claims := flashClaims{
		Messages:         messages,
		RegisteredClaims: s.registered(flashTTL),
	}
	token, err := s.sign(claims)
	if err != nil {
		return fmt.Errorf("failed to sign flash: %w", err)
	}
	s.setCookie(w, flashCookieName, token, flashTTL)
	return nil
}

// PopFlashes はフラッシュメッセージを取り出し、Cookieを削除する。
// 署名が不正または期限切れの場合は空を返す。
func (s *CookieSigner) PopFlashes(w http.ResponseWriter, r *http.Request) []FlashMessage {
	if _, err := r.Cookie(flashCookieName); err != nil {
		return nil
	}
	s.clearCookie(w, flashCookieName)
	return s.readFlashes(r)
}

func (s *CookieSigner) readFlashes(r *http.Request) []FlashMessage {
	cookie, err := r.Cookie(flashCookieName)
	if err != nil || cookie.Value == "" {
		return nil
	}
	var claims flashClaims
	if err := s.parse(cookie.Value, &claims); err != nil {
		return nil
	}
	return claims.Messages
}

// SetNext はログイン完了後の遷移先を保存する。
// 安全な相対パスでない場合は何もしない。
func (s *CookieSigner) SetNext(w http.ResponseWriter, next string) error {
	if !IsSafeNext(next) {
		return nil
	}
	claims := nextClaims{
		Next:             next,
		RegisteredClaims: s.registered(nextTTL),
	}
	token, err := s.sign(claims)
	if err != nil {
		return fmt.Errorf("failed to sign next: %w", err)
	}
	s.setCookie(w, nextCookieName, token, nextTTL)
	return nil
}

// PopNext は保存された遷移先を取り出し、Cookieを削除する。
// 未設定・不正・期限切れの場合は "/" を返す。
func (s *CookieSigner) PopNext(w http.ResponseWriter, r *http.Request) string {
	cookie, err := r.Cookie(nextCookieName)
	if err != nil || cookie.Value == "" {
		return "/"
	}
	s.clearCookie(w, nextCookieName)

	var claims nextClaims
	if err := s.parse(cookie.Value, &claims); err != nil {
		return "/"
	}
	if !IsSafeNext(claims.Next) {
		return "/"
	}
	return claims.Next
}

// IsSafeNext は遷移先が同一オリジンの相対パスかどうかを判定する。
func IsSafeNext(next string) bool {
	if !strings.HasPrefix(next, "/") {
		return false
	}
	if strings.HasPrefix(next, "//") || strings.HasPrefix(next, "/\\") {
		return false
	}
	return !strings.ContainsAny(next, "\r\n")
}

func (s *CookieSigner) registered(ttl time.Duration) jwt.RegisteredClaims {
	now := s.now()
	return jwt.RegisteredClaims{
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
}

func (s *CookieSigner) sign(claims jwt.Claims) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

func (s *CookieSigner) parse(token string, claims jwt.Claims) error {
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return err
	}
	if !parsed.Valid {
		return errors.New("invalid token")
	}
	return nil
}

func (s *CookieSigner) setCookie(w http.ResponseWriter, name, value string, ttl time.Duration) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   s.domain,
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *CookieSigner) clearCookie(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		Domain:   s.domain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
	})
}
