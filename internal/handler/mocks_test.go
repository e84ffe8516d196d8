package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/opendatacensus/internal/auth"
	"github.com/hitoshi/opendatacensus/internal/census"
	"github.com/hitoshi/opendatacensus/internal/middleware"
	"github.com/hitoshi/opendatacensus/internal/model"
	"github.com/hitoshi/opendatacensus/internal/refdata"
)

// --- モック定義 ---

type mockAuthService struct {
	getLoginURLFn    func(state string) string
	handleCallbackFn func(ctx context.Context, code string) (*model.Session, error)
	logoutFn         func(ctx context.Context, sessionID string) error
}

func (m *mockAuthService) GetLoginURL(state string) string {
	if m.getLoginURLFn != nil {
		return m.getLoginURLFn(state)
	}
	return "https://www.facebook.com/v19.0/dialog/oauth?state=" + state
}

func (m *mockAuthService) HandleCallback(ctx context.Context, code string) (*model.Session, error) {
	if m.handleCallbackFn != nil {
		return m.handleCallbackFn(ctx, code)
	}
	return nil, nil
}

func (m *mockAuthService) Logout(ctx context.Context, sessionID string) error {
	if m.logoutFn != nil {
		return m.logoutFn(ctx, sessionID)
	}
	return nil
}

type mockCensusService struct {
	catalog *refdata.Catalog

	isReviewerFn         func(user *model.User) bool
	createSubmissionFn   func(ctx context.Context, user *model.User, form census.SubmissionForm) (*model.Submission, error)
	prefillSubmissionFn  func(ctx context.Context, query map[string]string) census.Prefill
	getSubmissionFn      func(ctx context.Context, id string) (*model.Submission, error)
	reviewSubmissionFn   func(ctx context.Context, user *model.User, id string) (*census.ReviewView, error)
	processReviewFn      func(ctx context.Context, user *model.User, decision model.ReviewDecision, id string, edited model.Payload) (*model.Submission, error)
	placeOverviewFn      func(ctx context.Context, placeID string) (*census.PlaceOverview, error)
	overviewFn           func(ctx context.Context, user *model.User) (*census.Overview, error)
	createSubmissionCall int
	processReviewCall    int
}

func (m *mockCensusService) Catalog() *refdata.Catalog {
	return m.catalog
}

func (m *mockCensusService) IsReviewer(user *model.User) bool {
	if m.isReviewerFn != nil {
		return m.isReviewerFn(user)
	}
	return false
}

func (m *mockCensusService) CreateSubmission(ctx context.Context, user *model.User, form census.SubmissionForm) (*model.Submission, error) {
	m.createSubmissionCall++
	if m.createSubmissionFn != nil {
		return m.createSubmissionFn(ctx, user, form)
	}
	return &model.Submission{ID: "sub-1", Place: form.Place}, nil
}

func (m *mockCensusService) PrefillSubmission(ctx context.Context, query map[string]string) census.Prefill {
	if m.prefillSubmissionFn != nil {
		return m.prefillSubmissionFn(ctx, query)
	}
	return census.Prefill{Year: 2014, Fields: query}
}

func (m *mockCensusService) GetSubmission(ctx context.Context, id string) (*model.Submission, error) {
	if m.getSubmissionFn != nil {
		return m.getSubmissionFn(ctx, id)
	}
	return nil, model.NewSubmissionNotFoundError(id)
}

func (m *mockCensusService) ReviewSubmission(ctx context.Context, user *model.User, id string) (*census.ReviewView, error) {
	if m.reviewSubmissionFn != nil {
		return m.reviewSubmissionFn(ctx, user, id)
	}
	return nil, model.NewNotReviewerError()
}

func (m *mockCensusService) ProcessReview(ctx context.Context, user *model.User, decision model.ReviewDecision, id string, edited model.Payload) (*model.Submission, error) {
	m.processReviewCall++
	if m.processReviewFn != nil {
		return m.processReviewFn(ctx, user, decision, id, edited)
	}
	return &model.Submission{ID: id}, nil
}

func (m *mockCensusService) PlaceOverview(ctx context.Context, placeID string) (*census.PlaceOverview, error) {
	if m.placeOverviewFn != nil {
		return m.placeOverviewFn(ctx, placeID)
	}
	place, ok := m.catalog.Place(placeID)
	if !ok {
		return nil, model.NewPlaceNotFoundError(placeID)
	}
	return &census.PlaceOverview{Place: place}, nil
}

func (m *mockCensusService) Overview(ctx context.Context, user *model.User) (*census.Overview, error) {
	if m.overviewFn != nil {
		return m.overviewFn(ctx, user)
	}
	return &census.Overview{Year: 2014, Places: m.catalog.Places, Entries: map[string][]*model.Entry{}}, nil
}

// memorySessionStore はCookieの値をキーにセッションを返すインメモリのセッションストア。
type memorySessionStore struct {
	sessions map[string]*model.Session
}

func (m *memorySessionStore) Create(ctx context.Context, session *model.Session) error {
	m.sessions[session.ID] = session
	return nil
}

func (m *memorySessionStore) FindByID(ctx context.Context, id string) (*model.Session, error) {
	return m.sessions[id], nil
}

func (m *memorySessionStore) DeleteByID(ctx context.Context, id string) error {
	delete(m.sessions, id)
	return nil
}

type mockHealthChecker struct {
	err error
}

func (m *mockHealthChecker) PingContext(ctx context.Context) error {
	return m.err
}

// --- テスト用ヘルパー ---

const (
	testCSRFToken     = "test-csrf-token"
	testSecret        = "test-session-secret"
	citizenSessionID  = "citizen-session"
	reviewerSessionID = "reviewer-session"
	citizenUserID     = "facebook:1001"
	reviewerUserID    = "facebook:2002"
)

func citizen() model.User {
	return model.User{ID: citizenUserID, Provider: "facebook", Username: "1001", Name: "Carol Citizen", Email: "carol@example.org"}
}

func reviewer() model.User {
	return model.User{ID: reviewerUserID, Provider: "facebook", Username: "2002", Name: "Rita Reviewer", Email: "rita@example.org"}
}

func testCatalog(t *testing.T) *refdata.Catalog {
	t.Helper()
	c, err := refdata.Default()
	if err != nil {
		t.Fatalf("refdata.Default: %v", err)
	}
	return c
}

// testSessions は市民とレビュアーのセッションを解決するauth.Serviceを返す。
func testSessions() *auth.Service {
	expires := time.Now().Add(time.Hour)
	store := &memorySessionStore{sessions: map[string]*model.Session{
		citizenSessionID:  {ID: citizenSessionID, User: citizen(), ExpiresAt: expires},
		reviewerSessionID: {ID: reviewerSessionID, User: reviewer(), ExpiresAt: expires},
	}}
	return auth.NewService(nil, store, auth.ServiceConfig{})
}

type testEnv struct {
	router  http.Handler
	signer  *middleware.CookieSigner
	auth    *mockAuthService
	census  *mockCensusService
	limiter *middleware.RateLimiter
}

func newTestEnv(t *testing.T, svc CensusServiceInterface, authSvc AuthServiceInterface) *testEnv {
	t.Helper()

	limiter := middleware.NewRateLimiter(middleware.NewRateLimiterConfig(10000, 10000))
	t.Cleanup(limiter.Stop)

	signer := middleware.NewCookieSigner(testSecret, false, "")
	router, err := NewRouter(&RouterDeps{
		UserResolver:      testSessions(),
		CORSAllowedOrigin: "http://localhost:8080",
		RateLimiter:       limiter,
		Signer:            signer,
		HealthChecker:     &mockHealthChecker{},
		AuthService:       authSvc,
		AuthConfig:        AuthHandlerConfig{SessionMaxAge: 3600},
		CensusService:     svc,
	})
	if err != nil {
		t.Fatalf("NewRouter: %v", err)
	}

	env := &testEnv{router: router, signer: signer, limiter: limiter}
	env.census, _ = svc.(*mockCensusService)
	env.auth, _ = authSvc.(*mockAuthService)
	return env
}

func newMockEnv(t *testing.T) *testEnv {
	t.Helper()
	svc := &mockCensusService{
		catalog: testCatalog(t),
		isReviewerFn: func(user *model.User) bool {
			return user != nil && user.ID == reviewerUserID
		},
	}
	return newTestEnv(t, svc, &mockAuthService{})
}

// get はsessionIDのユーザーとしてGETリクエストを送る。sessionIDが空の場合は未ログイン。
func (e *testEnv) get(path, sessionID string, cookies ...*http.Cookie) *httpResult {
	req, _ := http.NewRequest(http.MethodGet, "http://census.test"+path, nil)
	req.RemoteAddr = "192.0.2.10:1234"
	if sessionID != "" {
		req.AddCookie(&http.Cookie{Name: middleware.SessionCookieName, Value: sessionID})
	}
	for _, c := range cookies {
		req.AddCookie(c)
	}
	return e.do(req)
}

// postForm はCSRFトークン付きでフォームを送信する。
func (e *testEnv) postForm(path, sessionID string, form url.Values) *httpResult {
	if form == nil {
		form = url.Values{}
	}
	form.Set(middleware.CSRFFieldName, testCSRFToken)
	req, _ := http.NewRequest(http.MethodPost, "http://census.test"+path, strings.NewReader(form.Encode()))
	req.RemoteAddr = "192.0.2.10:1234"
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.AddCookie(&http.Cookie{Name: "csrf_token", Value: testCSRFToken})
	if sessionID != "" {
		req.AddCookie(&http.Cookie{Name: middleware.SessionCookieName, Value: sessionID})
	}
	return e.do(req)
}

func (e *testEnv) do(req *http.Request) *httpResult {
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return &httpResult{recorder: w}
}

// flashes はレスポンスのフラッシュCookieを次のリクエストに載せて取り出す。
func (e *testEnv) flashes(res *httpResult) []middleware.FlashMessage {
	req, _ := http.NewRequest(http.MethodGet, "http://census.test/", nil)
	for _, c := range res.cookies() {
		if c.MaxAge >= 0 && c.Value != "" {
			req.AddCookie(c)
		}
	}
	return e.signer.PopFlashes(httptest.NewRecorder(), req)
}

type httpResult struct {
	recorder *httptest.ResponseRecorder
}

func (r *httpResult) status() int             { return r.recorder.Code }
func (r *httpResult) body() string            { return r.recorder.Body.String() }
func (r *httpResult) location() string        { return r.recorder.Header().Get("Location") }
func (r *httpResult) cookies() []*http.Cookie { return r.recorder.Result().Cookies() }

func (r *httpResult) cookie(name string) *http.Cookie {
	for _, c := range r.cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}
