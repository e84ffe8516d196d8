// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hitoshi/opendatacensus/internal/model"
)

// SessionCookieName はセッションIDを保持するCookieの名前。
const SessionCookieName = "session_id"

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// userContextKey はリクエストコンテキストにセッションのユーザーを格納するためのキー。
var userContextKey = contextKey("user")

// userHolderContextKey は外側のミドルウェアへユーザーを伝えるための入れ物のキー。
var userHolderContextKey = contextKey("user_holder")

type userHolder struct {
	user *model.User
}

func contextWithUserHolder(ctx context.Context, h *userHolder) context.Context {
	return context.WithValue(ctx, userHolderContextKey, h)
}

// UserResolver はセッションIDからログイン中のユーザーを解決するインターフェース。
// auth.Serviceが実装する。セッションが存在しない場合は (nil, nil) を返す。
type UserResolver interface {
	GetCurrentUser(ctx context.Context, sessionID string) (*model.User, error)
}

// NewSessionMiddleware はHTTP Only CookieのセッションIDからユーザーを解決し、
// リクエストコンテキストに注入するミドルウェアを返す。
// セッションがない・期限切れ・取得失敗の場合も拒否はせず、未ログインとして処理を続ける。
// アクセス制御は各ハンドラーで行う。
func NewSessionMiddleware(resolver UserResolver) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cookie, err := r.Cookie(SessionCookieName)
			if err != nil || cookie.Value == "" {
				next.ServeHTTP(w, r)
				return
			}

			user, err := resolver.GetCurrentUser(r.Context(), cookie.Value)
			if err != nil {
				slog.Error("failed to resolve session user",
					slog.String("error", err.Error()),
				)
				next.ServeHTTP(w, r)
				return
			}
			if user == nil {
				next.ServeHTTP(w, r)
				return
			}

			next.ServeHTTP(w, r.WithContext(ContextWithUser(r.Context(), user)))
		})
	}
}

// UserFromContext はリクエストコンテキストからログイン中のユーザーを取得する。
// 未ログインの場合はnilを返す。
func UserFromContext(ctx context.Context) *model.User {
	user, _ := ctx.Value(userContextKey).(*model.User)
	return user
}

// ContextWithUser はコンテキストにユーザーを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithUser(ctx context.Context, user *model.User) context.Context {
	if h, ok := ctx.Value(userHolderContextKey).(*userHolder); ok {
		h.user = user
	}
	return context.WithValue(ctx, userContextKey, user)
}
