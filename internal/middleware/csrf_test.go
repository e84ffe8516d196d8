package middleware

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
)

func newCSRFHandler(t *testing.T, called *bool) http.Handler {
	t.Helper()
	return NewCSRFMiddleware(CSRFConfig{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*called = true
		w.WriteHeader(http.StatusOK)
	}))
}

func findCookie(cookies []*http.Cookie, name string) *http.Cookie {
	for _, c := range cookies {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func TestCSRFMiddleware_SafeMethods_PassThroughAndIssueToken(t *testing.T) {
	for _, method := range []string{http.MethodGet, http.MethodHead, http.MethodOptions} {
		t.Run(method, func(t *testing.T) {
			var token string
			handler := NewCSRFMiddleware(CSRFConfig{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				token = CSRFTokenFromContext(r.Context())
			}))

			w := httptest.NewRecorder()
			handler.ServeHTTP(w, httptest.NewRequest(method, "/country/submit", nil))

			if w.Code != http.StatusOK {
				t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
			}
			cookie := findCookie(w.Result().Cookies(), "csrf_token")
			if cookie == nil {
				t.Fatal("expected csrf_token cookie to be set")
			}
			if !cookie.HttpOnly {
				t.Error("csrf cookie should be HttpOnly")
			}
			if cookie.SameSite != http.SameSiteLaxMode {
				t.Errorf("SameSite = %v, want Lax", cookie.SameSite)
			}
			if len(cookie.Value) != 64 {
				t.Errorf("token length = %d, want 64", len(cookie.Value))
			}
			if token != cookie.Value {
				t.Errorf("context token = %q, want cookie value %q", token, cookie.Value)
			}
		})
	}
}

func TestCSRFMiddleware_ExistingCookie_IsReused(t *testing.T) {
	var token string
	handler := NewCSRFMiddleware(CSRFConfig{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token = CSRFTokenFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/country/submit", nil)
	req.AddCookie(&http.Cookie{Name: "csrf_token", Value: "existing-token"})
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if token != "existing-token" {
		t.Errorf("token = %q, want existing-token", token)
	}
	if c := findCookie(w.Result().Cookies(), "csrf_token"); c != nil {
		t.Error("cookie should not be reissued when present")
	}
}

func TestCSRFMiddleware_POST_ValidFormField_Passes(t *testing.T) {
	called := false
	handler := newCSRFHandler(t, &called)

	form := url.Values{"csrf_token": {"tok-123"}, "place": {"gb"}}
	req := httptest.NewRequest(http.MethodPost, "/country/submit", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.AddCookie(&http.Cookie{Name: "csrf_token", Value: "tok-123"})
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if !called {
		t.Fatal("handler should be called for matching form token")
	}
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestCSRFMiddleware_POST_ValidHeader_Passes(t *testing.T) {
	called := false
	handler := newCSRFHandler(t, &called)

	req := httptest.NewRequest(http.MethodPost, "/country/review/abc", nil)
	req.Header.Set("X-CSRF-Token", "tok-456")
	req.AddCookie(&http.Cookie{Name: "csrf_token", Value: "tok-456"})
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if !called {
		t.Fatal("handler should be called for matching header token")
	}
}

func TestCSRFMiddleware_POST_Rejections(t *testing.T) {
	tests := []struct {
		name      string
		cookie    string
		formToken string
		header    string
	}{
		{name: "no cookie", formToken: "tok"},
		{name: "no submitted token", cookie: "tok"},
		{name: "form token mismatch", cookie: "tok", formToken: "other"},
		{name: "header mismatch", cookie: "tok", header: "other"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			handler := newCSRFHandler(t, &called)

			form := url.Values{}
			if tt.formToken != "" {
				form.Set("csrf_token", tt.formToken)
			}
			req := httptest.NewRequest(http.MethodPost, "/country/submit", strings.NewReader(form.Encode()))
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			if tt.header != "" {
				req.Header.Set("X-CSRF-Token", tt.header)
			}
			if tt.cookie != "" {
				req.AddCookie(&http.Cookie{Name: "csrf_token", Value: tt.cookie})
			}
			w := httptest.NewRecorder()

			handler.ServeHTTP(w, req)

			if called {
				t.Error("handler should not be called")
			}
			if w.Code != http.StatusForbidden {
				t.Errorf("status = %d, want %d", w.Code, http.StatusForbidden)
			}
		})
	}
}

func TestCSRFMiddleware_POST_FormRemainsReadable(t *testing.T) {
	var place string
	handler := NewCSRFMiddleware(CSRFConfig{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Fatalf("ParseForm: %v", err)
		}
		place = r.PostForm.Get("place")
	}))

	form := url.Values{"csrf_token": {"tok"}, "place": {"gb"}}
	req := httptest.NewRequest(http.MethodPost, "/country/submit", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.AddCookie(&http.Cookie{Name: "csrf_token", Value: "tok"})

	handler.ServeHTTP(httptest.NewRecorder(), req)

	if place != "gb" {
		t.Errorf("place = %q, want gb", place)
	}
}

func TestGenerateCSRFToken_Unique(t *testing.T) {
	a, err := generateCSRFToken()
	if err != nil {
		t.Fatal(err)
	}
	b, err := generateCSRFToken()
	if err != nil {
		t.Fatal(err)
	}
	if a == b {
		t.Error("tokens should differ")
	}
}
