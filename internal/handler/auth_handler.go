// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/opendatacensus/internal/metrics"
	"github.com/hitoshi/opendatacensus/internal/middleware"
	"github.com/hitoshi/opendatacensus/internal/model"
)

const oauthStateCookie = "oauth_state"

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	GetLoginURL(state string) string
	HandleCallback(ctx context.Context, code string) (*model.Session, error)
	Logout(ctx context.Context, sessionID string) error
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	CookieDomain  string
	CookieSecure  bool
	SessionMaxAge int // セッションCookieの有効期間（秒）
}

// AuthHandler はFacebookログインとセッション関連のHTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
	views   *Renderer
	signer  *middleware.CookieSigner
	metrics metrics.Recorder
	config  AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(
	service AuthServiceInterface,
	views *Renderer,
	signer *middleware.CookieSigner,
	recorder metrics.Recorder,
	config AuthHandlerConfig,
) *AuthHandler {
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	return &AuthHandler{
		service: service,
		views:   views,
		signer:  signer,
		metrics: recorder,
		config:  config,
	}
}

// LoginPage はログインページを表示する。
// nextクエリが安全な相対パスであれば、ログイン完了後の遷移先として保存する。
// GET /login
func (h *AuthHandler) LoginPage(w http.ResponseWriter, r *http.Request) {
	if next := r.URL.Query().Get("next"); next != "" {
		if err := h.signer.SetNext(w, next); err != nil {
			slog.Error("failed to store next url", slog.String("error", err.Error()))
		}
	}
	h.views.Render(w, r, "login.html", "Login", nil)
}

// Login はFacebook OAuthフローを開始する。
// GET /auth/facebook
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	state, err := generateState()
	if err != nil {
		slog.Error("failed to generate oauth state", slog.String("error", err.Error()))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	// stateをCookieに保存（CSRF対策）
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    state,
		Path:     "/",
		MaxAge:   600, // 10分
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, h.service.GetLoginURL(state), http.StatusTemporaryRedirect)
}

// Callback はOAuthコールバックを処理する。
// 失敗時はエラーをフラッシュして/loginへ、成功時は/auth/loggedinへリダイレクトする。
// GET /auth/facebook/callback?code=xxx&state=yyy
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	state := query.Get("state")
	stateCookie, err := r.Cookie(oauthStateCookie)
	if err != nil || state == "" || stateCookie.Value != state {
		slog.Warn("oauth state mismatch", slog.String("query_state", state))
		http.Error(w, "invalid state parameter", http.StatusBadRequest)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	// ユーザーがダイアログでキャンセルした場合はerrorパラメータが付く
	if reason := query.Get("error"); reason != "" {
		h.metrics.RecordLogin("denied")
		h.failLogin(w, r, "Login was cancelled: "+query.Get("error_description"))
		return
	}

	code := query.Get("code")
	if code == "" {
		h.metrics.RecordLogin("denied")
		h.failLogin(w, r, "Login failed: missing authorization code")
		return
	}

	session, err := h.service.HandleCallback(r.Context(), code)
	if err != nil {
		var apiErr *model.APIError
		if errors.As(err, &apiErr) {
			h.metrics.RecordLogin(apiErr.Code)
			h.failLogin(w, r, apiErr.Message)
			return
		}
		slog.Error("oauth callback failed", slog.String("error", err.Error()))
		h.metrics.RecordLogin("error")
		h.failLogin(w, r, "Login failed. Please try again.")
		return
	}

	h.metrics.RecordLogin("success")

	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    session.ID,
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   h.config.SessionMaxAge,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	if err := h.signer.AddFlash(w, r, middleware.FlashInfo, "Welcome, "+session.User.Name); err != nil {
		slog.Error("failed to add flash", slog.String("error", err.Error()))
	}
	http.Redirect(w, r, "/auth/loggedin", http.StatusFound)
}

func (h *AuthHandler) failLogin(w http.ResponseWriter, r *http.Request, message string) {
	if err := h.signer.AddFlash(w, r, middleware.FlashError, message); err != nil {
		slog.Error("failed to add flash", slog.String("error", err.Error()))
	}
	http.Redirect(w, r, "/login", http.StatusFound)
}

// LoggedIn はログイン完了後に保存された遷移先へリダイレクトする。
// GET /auth/loggedin
func (h *AuthHandler) LoggedIn(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, h.signer.PopNext(w, r), http.StatusFound)
}

// Logout はセッションを破棄してトップページへリダイレクトする。
// GET /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(middleware.SessionCookieName)
	if err == nil && cookie.Value != "" {
		if logoutErr := h.service.Logout(r.Context(), cookie.Value); logoutErr != nil {
			// ログアウト失敗してもCookieはクリアする
			slog.Error("failed to logout", slog.String("error", logoutErr.Error()))
		}
	}

	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    "",
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, "/", http.StatusFound)
}

// generateState はCSRF対策用のランダムなstate値を生成する。
func generateState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
