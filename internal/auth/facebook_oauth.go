package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

const (
	defaultFacebookDialogURL = "https://www.facebook.com/v19.0/dialog/oauth"
	defaultFacebookTokenURL  = "https://graph.facebook.com/v19.0/oauth/access_token"
	defaultFacebookMeURL     = "https://graph.facebook.com/v19.0/me"

	// facebookProfileFields はGraph APIの/meで要求するフィールド。
	facebookProfileFields = "id,name,first_name,last_name,email"
)

// FacebookOAuthConfig はFacebook OAuthプロバイダーの設定。
type FacebookOAuthConfig struct {
	AppID       string
	AppSecret   string
	RedirectURL string

	// テスト用にオーバーライド可能なURL
	DialogURL string
	TokenURL  string
	MeURL     string

	// HTTPClient が未設定の場合はhttp.DefaultClientを使用する。
	HTTPClient *http.Client
}

// FacebookOAuthProvider はFacebook Login（OAuth 2.0）による認証を提供する。
type FacebookOAuthProvider struct {
	config FacebookOAuthConfig
}

// NewFacebookOAuthProvider はFacebookOAuthProviderを生成する。
func NewFacebookOAuthProvider(config FacebookOAuthConfig) *FacebookOAuthProvider {
	if config.DialogURL == "" {
		config.DialogURL = defaultFacebookDialogURL
	}
	if config.TokenURL == "" {
		config.TokenURL = defaultFacebookTokenURL
	}
	if config.MeURL == "" {
		config.MeURL = defaultFacebookMeURL
	}
	if config.HTTPClient == nil {
		config.HTTPClient = http.DefaultClient
	}
	return &FacebookOAuthProvider{config: config}
}

// GetLoginURL はFacebookのログインダイアログURLを生成する。スコープはemail。
func (p *FacebookOAuthProvider) GetLoginURL(state string) string {
	params := url.Values{
		"client_id":     {p.config.AppID},
		"redirect_uri":  {p.config.RedirectURL},
		"response_type": {"code"},
		"scope":         {"email"},
		"state":         {state},
	}
	return p.config.DialogURL + "?" + params.Encode()
}

// facebookTokenResponse はGraph APIのトークンエンドポイントのレスポンス。
type facebookTokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// facebookMe はGraph APIの/meのレスポンス。
type facebookMe struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
}

// facebookErrorResponse はGraph APIのエラーレスポンス。
type facebookErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    int    `json:"code"`
	} `json:"error"`
}

// ExchangeCode は認可コードをアクセストークンに交換し、プロフィールを取得する。
func (p *FacebookOAuthProvider) ExchangeCode(ctx context.Context, code string) (*Profile, error) {
	tokenResp, err := p.exchangeToken(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange token: %w", err)
	}

	me, err := p.fetchMe(ctx, tokenResp.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch profile: %w", err)
	}

	// Graph APIはusernameを返さないため、アプリスコープのIDをusernameとする
	return &Profile{
		Provider:    ProviderFacebook,
		ProviderID:  me.ID,
		Username:    me.ID,
		DisplayName: me.Name,
		GivenName:   me.FirstName,
		FamilyName:  me.LastName,
		Email:       me.Email,
	}, nil
}

// exchangeToken は認可コードをアクセストークンに交換する。
func (p *FacebookOAuthProvider) exchangeToken(ctx context.Context, code string) (*facebookTokenResponse, error) {
	params := url.Values{
		"client_id":     {p.config.AppID},
		"client_secret": {p.config.AppSecret},
		"redirect_uri":  {p.config.RedirectURL},
		"code":          {code},
	}

	body, err := p.get(ctx, p.config.TokenURL+"?"+params.Encode())
	if err != nil {
		return nil, err
	}

	var tokenResp facebookTokenResponse
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return nil, fmt.Errorf("failed to parse token response: %w", err)
	}
	if tokenResp.AccessToken == "" {
		return nil, fmt.Errorf("empty access token in response")
	}
	return &tokenResp, nil
}

// fetchMe はアクセストークンでプロフィールを取得する。
func (p *FacebookOAuthProvider) fetchMe(ctx context.Context, accessToken string) (*facebookMe, error) {
	params := url.Values{
		"fields":       {facebookProfileFields},
		"access_token": {accessToken},
	}

	body, err := p.get(ctx, p.config.MeURL+"?"+params.Encode())
	if err != nil {
		return nil, err
	}

	var me facebookMe
	if err := json.Unmarshal(body, &me); err != nil {
		return nil, fmt.Errorf("failed to parse profile response: %w", err)
	}
	if me.ID == "" {
		return nil, fmt.Errorf("empty id in profile response")
	}
	return &me, nil
}

// get はGraph APIへGETリクエストを送り、200以外の場合はエラーメッセージを含むエラーを返す。
func (p *FacebookOAuthProvider) get(ctx context.Context, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := p.config.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var fbErr facebookErrorResponse
		if json.Unmarshal(body, &fbErr) == nil && fbErr.Error.Message != "" {
			return nil, fmt.Errorf("graph api returned status %d: %s", resp.StatusCode, fbErr.Error.Message)
		}
		return nil, fmt.Errorf("graph api returned status %d: %s", resp.StatusCode, string(body))
	}

	return body, nil
}

// compile-time interface check
var _ OAuthProvider = (*FacebookOAuthProvider)(nil)
